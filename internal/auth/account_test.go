package auth

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stridelab/stride/internal/domain/repository"
	"github.com/stridelab/stride/internal/email"
	"github.com/stridelab/stride/internal/security/password"
	"github.com/stridelab/stride/internal/store/memory"
)

// spySender captura los correos en vez de mandarlos.
type spySender struct {
	sent []spyMail
}

type spyMail struct {
	To, Subject, Text string
}

func (s *spySender) Send(to, subject, _ string, textBody string) error {
	s.sent = append(s.sent, spyMail{To: to, Subject: subject, Text: textBody})
	return nil
}

var tokenRe = regexp.MustCompile(`token=([A-Za-z0-9_-]+)`)

func (s *spySender) lastToken(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, s.sent)
	m := tokenRe.FindStringSubmatch(s.sent[len(s.sent)-1].Text)
	require.Len(t, m, 2)
	return m[1]
}

func newAccountService(t *testing.T) (*AccountService, *memory.Store, *spySender) {
	t.Helper()
	st := memory.New()
	spy := &spySender{}
	mailer := email.NewMailer(spy, "Stride", "https://stride.example")
	policy := password.Policy{MinLength: 8}
	svc := NewAccountService(st.Users, st.EmailTokens, st.Sessions, mailer, policy, zap.NewNop())
	return svc, st, spy
}

func TestSignupAndConfirm(t *testing.T) {
	svc, st, spy := newAccountService(t)
	ctx := context.Background()

	require.NoError(t, svc.Signup(ctx, "nora", "nora@example.com", "long enough pw"))

	u, err := st.Users.GetByUsername(ctx, "nora")
	require.NoError(t, err)
	assert.False(t, u.Active, "inactiva hasta confirmar")

	require.NoError(t, svc.ConfirmSignup(ctx, spy.lastToken(t)))

	u, err = st.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, u.Active)
}

func TestSignupTokenSingleUse(t *testing.T) {
	svc, _, spy := newAccountService(t)
	ctx := context.Background()

	require.NoError(t, svc.Signup(ctx, "nora", "nora@example.com", "long enough pw"))
	tok := spy.lastToken(t)

	require.NoError(t, svc.ConfirmSignup(ctx, tok))
	assert.ErrorIs(t, svc.ConfirmSignup(ctx, tok), ErrBadToken)
}

func TestSignupDuplicate(t *testing.T) {
	svc, _, _ := newAccountService(t)
	ctx := context.Background()

	require.NoError(t, svc.Signup(ctx, "nora", "nora@example.com", "long enough pw"))
	assert.ErrorIs(t, svc.Signup(ctx, "nora", "other@example.com", "long enough pw"), ErrUserExists)
}

func TestSignupWeakPassword(t *testing.T) {
	svc, _, _ := newAccountService(t)

	err := svc.Signup(context.Background(), "nora", "nora@example.com", "short")
	var perr *PolicyError
	require.ErrorAs(t, err, &perr)
	assert.NotEmpty(t, perr.Reasons)
}

func TestPasswordResetFlow(t *testing.T) {
	svc, st, spy := newAccountService(t)
	ctx := context.Background()

	phc, err := password.Hash(password.Default, "old password")
	require.NoError(t, err)
	u, err := st.Users.Create(ctx, repository.CreateUserInput{
		Username: "nora", Email: "nora@example.com", PasswordHash: phc, Active: true, Approved: true,
	})
	require.NoError(t, err)
	_, err = st.Sessions.Create(ctx, repository.CreateSessionInput{
		ID: "22222222-2222-2222-2222-222222222222", UserID: u.ID,
		RefreshTokenHash: "h", ExpiresAt: time.Now().Add(24 * time.Hour),
	})
	require.NoError(t, err)

	require.NoError(t, svc.ForgotPassword(ctx, "nora@example.com"))
	require.NoError(t, svc.ResetPassword(ctx, spy.lastToken(t), "brand new password"))

	u, err = st.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, password.Verify("brand new password", u.PasswordHash))

	// El reset revoca todas las sesiones.
	sessions, err := st.Sessions.ListByUser(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.NotNil(t, sessions[0].RevokedAt)
}

func TestForgotPasswordUnknownEmailIsSilent(t *testing.T) {
	svc, _, spy := newAccountService(t)

	require.NoError(t, svc.ForgotPassword(context.Background(), "ghost@example.com"))
	assert.Empty(t, spy.sent)
}

func TestResetWithGarbageToken(t *testing.T) {
	svc, _, _ := newAccountService(t)
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "nonsense", "brand new password"), ErrBadToken)
	assert.ErrorIs(t, svc.ResetPassword(context.Background(), "", "brand new password"), ErrBadToken)
}

func TestChangePassword(t *testing.T) {
	svc, st, _ := newAccountService(t)
	ctx := context.Background()

	phc, err := password.Hash(password.Default, "old password")
	require.NoError(t, err)
	u, err := st.Users.Create(ctx, repository.CreateUserInput{
		Username: "nora", Email: "nora@example.com", PasswordHash: phc, Active: true, Approved: true,
	})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ChangePassword(ctx, u.ID, "wrong", "brand new password"), ErrInvalidCredentials)
	require.NoError(t, svc.ChangePassword(ctx, u.ID, "old password", "brand new password"))

	u, err = st.Users.GetByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, password.Verify("brand new password", u.PasswordHash))
}
