package google

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/oneclicktag/oneclicktag/internal/db"
	"github.com/oneclicktag/oneclicktag/internal/domain"
	"github.com/oneclicktag/oneclicktag/internal/secrets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
)

type fakeConnectionStore struct {
	conn    *db.GoogleConnection
	updates []string
	refresh [][]byte
}

func (s *fakeConnectionStore) SaveGoogleConnection(_ context.Context, conn *db.GoogleConnection) error {
	conn.ID = "conn-1"
	s.conn = conn
	return nil
}

func (s *fakeConnectionStore) GetGoogleConnection(_ context.Context, _, connectionID string) (*db.GoogleConnection, error) {
	if s.conn == nil || s.conn.ID != connectionID {
		return nil, db.ErrGoogleConnectionNotFound
	}
	return s.conn, nil
}

func (s *fakeConnectionStore) UpdateGoogleAccessToken(_ context.Context, _, accessToken, _ string, _ time.Time, refreshTokenEnc []byte) error {
	s.updates = append(s.updates, accessToken)
	s.refresh = append(s.refresh, refreshTokenEnc)
	return nil
}

type sequenceTokenSource struct {
	tokens []*oauth2.Token
	i      int
}

func (s *sequenceTokenSource) Token() (*oauth2.Token, error) {
	if s.i >= len(s.tokens) {
		return nil, errors.New("exhausted")
	}
	tok := s.tokens[s.i]
	s.i++
	return tok, nil
}

func testSealer(t *testing.T) *secrets.Sealer {
	t.Helper()
	sealer, err := secrets.NewSealer("test-encryption-key")
	require.NoError(t, err)
	return sealer
}

func TestAuthCodeURL(t *testing.T) {
	c := NewConnector(Config{ClientID: "client", ClientSecret: "secret", RedirectURL: "https://app.test/callback"}, nil, nil)

	u, err := url.Parse(c.AuthCodeURL("state-123"))
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Contains(t, q.Get("scope"), AdsScope)
	assert.True(t, c.Configured())
}

func TestPersistingTokenSourceStoresRefreshedTokens(t *testing.T) {
	store := &fakeConnectionStore{}
	sealer := testSealer(t)
	initial := &oauth2.Token{AccessToken: "a1", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour)}

	ts := &persistingTokenSource{
		base: &sequenceTokenSource{tokens: []*oauth2.Token{
			initial,
			{AccessToken: "a2", RefreshToken: "r1"},
			{AccessToken: "a3", RefreshToken: "r2"},
		}},
		last:   initial,
		conn:   &db.GoogleConnection{ID: "conn-1", TenantID: "tenant-1", CustomerID: "cust-1"},
		store:  store,
		sealer: sealer,
	}

	for range 3 {
		_, err := ts.Token()
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"a2", "a3"}, store.updates)
	assert.Nil(t, store.refresh[0])
	opened, err := sealer.OpenString(store.refresh[1], refreshTokenAD("tenant-1", "cust-1"))
	require.NoError(t, err)
	assert.Equal(t, "r2", opened)
}

func TestSaveConnectionSealsRefreshToken(t *testing.T) {
	store := &fakeConnectionStore{}
	sealer := testSealer(t)
	c := NewConnector(Config{ClientID: "client", ClientSecret: "secret"}, store, sealer)

	conn, err := c.SaveConnection(context.Background(), "tenant-1", "cust-1",
		&oauth2.Token{AccessToken: "a1", RefreshToken: "refresh-me"},
		oauth2Userinfo("g-1", "owner@acme.test"))

	require.NoError(t, err)
	assert.Equal(t, "conn-1", conn.ID)
	assert.NotContains(t, string(conn.RefreshTokenEnc), "refresh-me")

	opened, err := sealer.OpenString(conn.RefreshTokenEnc, refreshTokenAD("tenant-1", "cust-1"))
	require.NoError(t, err)
	assert.Equal(t, "refresh-me", opened)
}

func TestClientsForRequiresConnection(t *testing.T) {
	c := NewConnector(Config{}, &fakeConnectionStore{}, testSealer(t))

	_, err := c.ClientsFor(context.Background(), &domain.Customer{ID: "cust-1", TenantID: "tenant-1"})
	assert.ErrorIs(t, err, domain.ErrGoogleNotConnected)

	account, connID := "g-1", "conn-missing"
	_, err = c.ClientsFor(context.Background(), &domain.Customer{
		ID:                 "cust-1",
		TenantID:           "tenant-1",
		GoogleAccountID:    &account,
		GoogleConnectionID: &connID,
	})
	assert.ErrorIs(t, err, domain.ErrGoogleNotConnected)
}

func oauth2Userinfo(id, email string) *oauth2api.Userinfo {
	return &oauth2api.Userinfo{Id: id, Email: email}
}
