// Package account manages users and their connected mailboxes.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"

	"github.com/mixelka/whittle/internal/database"
	"github.com/mixelka/whittle/internal/events"
	"github.com/mixelka/whittle/internal/mail"
	"github.com/mixelka/whittle/internal/mail/gmail"
	"github.com/mixelka/whittle/internal/mail/imap"
	"github.com/mixelka/whittle/internal/secret"
	"github.com/mixelka/whittle/internal/triage"
	"github.com/mixelka/whittle/pkg/models"
)

// ErrGmailDisabled is returned when no OAuth client is configured
var ErrGmailDisabled = errors.New("gmail connect is not configured")

// OAuth is the authorization-code flow of the Gmail provider
type OAuth interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	HTTPClient(ctx context.Context, tok *oauth2.Token) *http.Client
}

// Options tune the mailbox clients the service builds
type Options struct {
	GmailRequestsPerSecond float64
	GmailEndpoint          string
	IMAPServer             string
	IMAPDialTimeout        time.Duration
	IMAPArchiveMailbox     string
	IMAPPlaintext          bool
}

// imapCredentials is the decrypted form of an IMAP credential row
type imapCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Server   string `json:"server"`
}

// Deps contains service dependencies
type Deps struct {
	DB        *database.DB
	Cipher    *secret.Cipher
	OAuth     OAuth // nil disables Gmail connect
	Resolver  *imap.Resolver
	Publisher events.Publisher
	Options   Options
	Logger    *slog.Logger
}

// Service creates users, connects mailboxes and builds their clients
type Service struct {
	db        *database.DB
	accounts  *database.Accounts
	engine    *triage.Engine
	cipher    *secret.Cipher
	oauth     OAuth
	resolver  *imap.Resolver
	publisher events.Publisher
	opts      Options
	logger    *slog.Logger
}

var (
	_ mail.Factory          = (*Service)(nil)
	_ triage.ArchiverSource = (*Service)(nil)
)

// New creates an account service
func New(deps Deps) *Service {
	resolver := deps.Resolver
	if resolver == nil {
		resolver = imap.NewResolver()
	}
	return &Service{
		db:        deps.DB,
		accounts:  database.NewAccounts(deps.DB),
		engine:    triage.NewEngine(deps.DB, nil, deps.Logger),
		cipher:    deps.Cipher,
		oauth:     deps.OAuth,
		resolver:  resolver,
		publisher: deps.Publisher,
		opts:      deps.Options,
		logger:    deps.Logger.With("component", "account"),
	}
}

// SetPublisher replaces the event publisher; the in-process publisher needs the
// sync pipeline, which in turn needs this service
func (s *Service) SetPublisher(p events.Publisher) {
	s.publisher = p
}

// CreateUser creates a user with the default boxes and config in one transaction
func (s *Service) CreateUser(ctx context.Context, email string) (*models.User, error) {
	var user *models.User
	err := s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		accounts := database.NewAccounts(tx)

		var err error
		user, err = accounts.CreateUser(ctx, email)
		if err != nil {
			return err
		}
		if _, err := s.engine.WithTx(tx).SeedBoxes(ctx, user.ID); err != nil {
			return err
		}
		_, err = accounts.GetOrCreateUserConfig(ctx, user.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.ID)
	return user, nil
}

// EnsureChatUser returns the user linked to a Telegram chat, creating one on first contact
func (s *Service) EnsureChatUser(ctx context.Context, chatID int64) (*models.User, bool, error) {
	user, err := s.accounts.GetUserByChatID(ctx, chatID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, err
	}

	user, err = s.CreateUser(ctx, "")
	if err != nil {
		return nil, false, err
	}
	if err := s.accounts.SetUserChat(ctx, user.ID, chatID); err != nil {
		return nil, false, err
	}

	user, err = s.accounts.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// GoogleConnectURL starts the OAuth flow for a user
func (s *Service) GoogleConnectURL(ctx context.Context, userID int64) (string, error) {
	if s.oauth == nil {
		return "", ErrGmailDisabled
	}
	if _, err := s.accounts.GetUserByID(ctx, userID); err != nil {
		return "", err
	}

	state := uuid.NewString()
	if err := s.accounts.CreateOAuthState(ctx, userID, state); err != nil {
		return "", err
	}
	return s.oauth.AuthCodeURL(state), nil
}

// CompleteGoogleConnect finishes the OAuth flow: the token is stored encrypted,
// the mailbox address is recorded and the account.connected event is published
func (s *Service) CompleteGoogleConnect(ctx context.Context, state, code string) (*models.User, error) {
	if s.oauth == nil {
		return nil, ErrGmailDisabled
	}

	oauthState, err := s.accounts.GetOAuthState(ctx, state)
	if err != nil {
		return nil, err
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	encoded, err := gmail.EncodeToken(tok)
	if err != nil {
		return nil, err
	}
	if err := s.storeCredential(ctx, oauthState.UserID, models.ProviderGmail, encoded); err != nil {
		return nil, err
	}

	client, err := s.gmailClient(ctx, tok)
	if err != nil {
		return nil, err
	}
	s.recordAddress(ctx, oauthState.UserID, client)

	return s.connected(ctx, oauthState.UserID)
}

// ConnectIMAP verifies IMAP credentials, stores them encrypted and publishes account.connected.
// An empty server is resolved from the address.
func (s *Service) ConnectIMAP(ctx context.Context, userID int64, username, password, server string) (*models.User, error) {
	if server == "" {
		server = s.opts.IMAPServer
	}
	if server == "" {
		resolved, err := s.resolver.Resolve(ctx, username)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve IMAP server: %w", err)
		}
		server = resolved
	}

	creds := imapCredentials{Username: username, Password: password, Server: server}
	client := s.imapClient(creds)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify IMAP login: %w", err)
	}
	_ = client.Close()

	raw, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credentials: %w", err)
	}
	if err := s.storeCredential(ctx, userID, models.ProviderIMAP, string(raw)); err != nil {
		return nil, err
	}
	if err := s.accounts.SetUserEmail(ctx, userID, username); err != nil {
		return nil, err
	}

	return s.connected(ctx, userID)
}

// ClientFor builds a fresh mailbox client from the user's latest credential
func (s *Service) ClientFor(ctx context.Context, userID int64) (mail.Client, error) {
	cred, err := s.accounts.LatestCredential(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, mail.ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	plain, err := s.cipher.Decrypt(cred.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	switch cred.Provider {
	case models.ProviderGmail:
		if s.oauth == nil {
			return nil, ErrGmailDisabled
		}
		tok, err := gmail.DecodeToken(plain)
		if err != nil {
			return nil, err
		}
		return s.gmailClient(ctx, tok)
	case models.ProviderIMAP:
		var creds imapCredentials
		if err := json.Unmarshal([]byte(plain), &creds); err != nil {
			return nil, fmt.Errorf("failed to decode credentials: %w", err)
		}
		return s.imapClient(creds), nil
	default:
		return nil, fmt.Errorf("unknown mail provider %q", cred.Provider)
	}
}

// ArchiverFor returns an archiver that closes its mailbox after each call
func (s *Service) ArchiverFor(ctx context.Context, userID int64) (triage.Archiver, error) {
	client, err := s.ClientFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	return oneShot{client: client}, nil
}

type oneShot struct {
	client mail.Client
}

func (o oneShot) Archive(ctx context.Context, id string) error {
	err := o.client.Archive(ctx, id)
	if closer, ok := o.client.(io.Closer); ok {
		_ = closer.Close()
	}
	return err
}

func (s *Service) storeCredential(ctx context.Context, userID int64, provider, plain string) error {
	sealed, err := s.cipher.Encrypt(plain)
	if err != nil {
		return err
	}
	return s.accounts.AppendCredential(ctx, userID, provider, sealed)
}

func (s *Service) recordAddress(ctx context.Context, userID int64, client mail.Client) {
	address, err := client.Profile(ctx)
	if err != nil {
		s.logger.Warn("failed to read mailbox profile", "user_id", userID, "error", err)
		return
	}
	if err := s.accounts.SetUserEmail(ctx, userID, address); err != nil {
		s.logger.Warn("failed to record mailbox address", "user_id", userID, "error", err)
	}
}

func (s *Service) connected(ctx context.Context, userID int64) (*models.User, error) {
	s.logger.Info("mailbox connected", "user_id", userID)

	if s.publisher != nil {
		if err := s.publisher.PublishAccountConnected(ctx, userID); err != nil {
			s.logger.Error("failed to publish account connected", "user_id", userID, "error", err)
		}
	}
	return s.accounts.GetUserByID(ctx, userID)
}

func (s *Service) gmailClient(ctx context.Context, tok *oauth2.Token) (*gmail.Client, error) {
	return gmail.NewClient(ctx, s.oauth.HTTPClient(ctx, tok), gmail.Config{
		RequestsPerSecond: s.opts.GmailRequestsPerSecond,
		Endpoint:          s.opts.GmailEndpoint,
	}, s.logger)
}

func (s *Service) imapClient(creds imapCredentials) *imap.Client {
	return imap.NewClient(imap.Config{
		Username:       creds.Username,
		Password:       creds.Password,
		Server:         creds.Server,
		DialTimeout:    s.opts.IMAPDialTimeout,
		ArchiveMailbox: s.opts.IMAPArchiveMailbox,
		Plaintext:      s.opts.IMAPPlaintext,
	}, s.logger)
}
