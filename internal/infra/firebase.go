// README: Firebase Admin SDK initialisation, token verifiers and principal mapping.
package infra

import (
	"context"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"lastmile/internal/types"
)

var ErrInvalidToken = errors.New("invalid token")

// FirebaseToken holds the verified token data used by downstream middleware.
type FirebaseToken struct {
	UID    string
	Claims map[string]interface{}
}

// Principal maps the token to an identity. The "role" custom claim selects
// admin or driver; anything else is a customer.
func (t *FirebaseToken) Principal() types.Principal {
	role, _ := t.Claims["role"].(string)
	return types.Principal{ID: types.ID(t.UID), Role: types.ParseRole(role)}
}

// TokenVerifier verifies a raw ID token string and returns token data.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error)
}

// NewFirebaseApp initialises the Admin SDK. If credentialsFile is empty,
// application-default credentials are used. databaseURL is only needed when
// the realtime database mirror is enabled.
func NewFirebaseApp(ctx context.Context, projectID, credentialsFile, databaseURL string) (*firebase.App, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID, DatabaseURL: databaseURL}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "firebase.NewApp")
	}
	return app, nil
}

// firebaseVerifier is the production implementation backed by the Firebase Admin SDK.
type firebaseVerifier struct {
	client *auth.Client
}

func NewFirebaseVerifier(ctx context.Context, app *firebase.App) (TokenVerifier, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "firebase app.Auth")
	}
	return &firebaseVerifier{client: client}, nil
}

func (v *firebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*FirebaseToken, error) {
	token, err := v.client.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, err
	}
	return &FirebaseToken{UID: token.UID, Claims: token.Claims}, nil
}

// StaticVerifier accepts "<role>:<id>" tokens without any signature. It is
// meant for local runs and load tests only.
type StaticVerifier struct{}

func (StaticVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	role, id, ok := strings.Cut(idToken, ":")
	if !ok || id == "" {
		return nil, ErrInvalidToken
	}
	switch types.Role(role) {
	case types.RoleAdmin, types.RoleDriver, types.RoleCustomer:
	default:
		return nil, ErrInvalidToken
	}
	return &FirebaseToken{UID: id, Claims: map[string]interface{}{"role": role}}, nil
}
