// Package session ties the credential manager, the Drive gateway, the feed
// and the token file together into the operations a user performs: sign
// in, sign out, upload and browse. It replaces process-wide globals with one
// explicitly owned object.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/tonimelisma/abide/internal/auth"
	"github.com/tonimelisma/abide/internal/drive"
	"github.com/tonimelisma/abide/internal/feed"
	"github.com/tonimelisma/abide/internal/tokenfile"
)

// Session is safe for concurrent use.
type Session struct {
	auth      *auth.Manager
	drive     *drive.Client
	feed      *feed.Holder
	tokenPath string
	logger    *slog.Logger

	mu      sync.Mutex
	account string
}

// New wires a session. Every credential the manager obtains is written to
// tokenPath; an empty tokenPath disables persistence.
func New(mgr *auth.Manager, dc *drive.Client, tokenPath string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		auth:      mgr,
		drive:     dc,
		feed:      feed.NewHolder(logger),
		tokenPath: tokenPath,
		logger:    logger,
	}

	mgr.OnChange(s.persist)

	return s
}

// Resume restores the credential saved by a previous run. It reports false
// when there is nothing to restore. The restored access token may be expired;
// the first remote call refreshes it silently.
func (s *Session) Resume() (bool, error) {
	if s.tokenPath == "" {
		return false, nil
	}

	tf, err := tokenfile.Load(s.tokenPath)
	if err != nil {
		return false, fmt.Errorf("session: loading saved credential: %w", err)
	}

	if tf == nil {
		return false, nil
	}

	cred := tf.Token.Credential()
	if cred.IsZero() {
		return false, nil
	}

	s.auth.Restore(cred)

	s.mu.Lock()
	s.account = tf.Meta.Account
	s.mu.Unlock()

	s.logger.Debug("session resumed", slog.String("account", tf.Meta.Account))

	return true, nil
}

// SignIn runs the interactive consent flow, identifies the account and makes
// sure the container folder exists. The credential is kept even if the
// folder step fails; the next operation retries it.
func (s *Session) SignIn(ctx context.Context) (drive.User, error) {
	if _, err := s.auth.Acquire(ctx, true); err != nil {
		return drive.User{}, err
	}

	user, err := s.drive.WhoAmI(ctx)
	if err != nil {
		s.logger.Warn("could not identify signed-in account", slog.String("error", err.Error()))
	}

	folder, err := s.drive.EnsureContainerFolder(ctx)
	if err != nil {
		return user, fmt.Errorf("session: preparing folder: %w", err)
	}

	s.mu.Lock()
	s.account = user.Label()
	s.mu.Unlock()

	s.saveMeta(tokenfile.Meta{Account: user.Label()})

	s.logger.Info("signed in",
		slog.String("account", user.Label()),
		slog.String("folder_id", folder.ID),
	)

	return user, nil
}

// SignOut forgets the credential, the cached folder and the feed, and
// deletes the token file. Remote revocation continues in the background;
// call Wait before the process exits.
func (s *Session) SignOut(ctx context.Context) error {
	s.auth.SignOut(ctx)
	s.drive.ResetFolder()
	s.feed.Clear()

	s.mu.Lock()
	s.account = ""
	s.mu.Unlock()

	if s.tokenPath == "" {
		return nil
	}

	return tokenfile.Remove(s.tokenPath)
}

// Wait blocks until background work started by SignOut finishes.
func (s *Session) Wait(ctx context.Context) error {
	return s.auth.Wait(ctx)
}

// Account returns the label of the signed-in account, if known.
func (s *Session) Account() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.account
}

// State returns the credential lifecycle state.
func (s *Session) State() auth.State {
	return s.auth.State()
}

// WhoAmI asks the server which account the credential belongs to.
func (s *Session) WhoAmI(ctx context.Context) (drive.User, error) {
	return s.drive.WhoAmI(ctx)
}

// UploadRequest describes one upload action.
type UploadRequest struct {
	Content  io.Reader
	Name     string
	MimeType string
	Tags     []string
	Public   bool
}

// Upload runs the upload action: ensure the folder, upload the bytes, then
// grant public access and set tags when requested, then reload the feed.
// Steps run strictly in order and the first failure stops the rest. Nothing
// is rolled back: a *StepError after the upload step carries the id of the
// file that now exists.
func (s *Session) Upload(ctx context.Context, req UploadRequest) (drive.MediaID, error) {
	actionID := uuid.NewString()
	log := s.logger.With(slog.String("action_id", actionID))

	log.Info("upload action started",
		slog.String("name", req.Name),
		slog.Int("tags", len(req.Tags)),
		slog.Bool("public", req.Public),
	)

	fail := func(step string, id drive.MediaID, err error) error {
		log.Warn("upload action stopped", slog.String("step", step), slog.String("error", err.Error()))
		return &StepError{Step: step, ID: id, ActionID: actionID, Err: err}
	}

	folder, err := s.drive.EnsureContainerFolder(ctx)
	if err != nil {
		return "", fail(StepFolder, "", err)
	}

	id, err := s.drive.UploadMedia(ctx, folder, req.Content, req.Name, req.MimeType)
	if err != nil {
		return "", fail(StepUpload, "", err)
	}

	if req.Public {
		if err := s.drive.MakePublic(ctx, id); err != nil {
			return id, fail(StepPublic, id, err)
		}
	}

	if len(req.Tags) > 0 {
		if err := s.drive.SetTags(ctx, id, req.Tags); err != nil {
			return id, fail(StepTags, id, err)
		}
	}

	if _, err := s.feed.Refresh(ctx, s.fetch("")); err != nil && !errors.Is(err, feed.ErrSuperseded) {
		return id, fail(StepRefresh, id, err)
	}

	log.Info("upload action finished", slog.String("media_id", string(id)))

	return id, nil
}

// ListFeed reloads the feed. Items carrying a tag that contains filterTag are
// kept (all items for an empty filter). With a non-nil rng the result is
// shuffled; otherwise it is newest first. A listing overtaken by a newer one
// returns feed.ErrSuperseded.
func (s *Session) ListFeed(ctx context.Context, filterTag string, rng *rand.Rand) ([]drive.MediaItem, error) {
	items, err := s.feed.Refresh(ctx, s.fetch(filterTag))
	if err != nil {
		return nil, err
	}

	if rng != nil {
		items = slices.Clone(items)
		feed.Shuffle(items, rng)
	}

	return items, nil
}

// Feed returns the most recently published listing.
func (s *Session) Feed() []drive.MediaItem {
	return s.feed.Items()
}

func (s *Session) fetch(filterTag string) feed.FetchFunc {
	return func(ctx context.Context) ([]drive.MediaItem, error) {
		folder, err := s.drive.EnsureContainerFolder(ctx)
		if err != nil {
			return nil, err
		}

		return s.drive.ListMedia(ctx, folder, filterTag)
	}
}

// persist writes every new credential to the token file.
func (s *Session) persist(cred auth.Credential) {
	if s.tokenPath == "" {
		return
	}

	if err := tokenfile.SaveCredential(s.tokenPath, cred); err != nil {
		s.logger.Warn("could not save credential", slog.String("error", err.Error()))
	}
}

func (s *Session) saveMeta(meta tokenfile.Meta) {
	if s.tokenPath == "" {
		return
	}

	tf, err := tokenfile.Load(s.tokenPath)
	if err != nil || tf == nil {
		tf = &tokenfile.File{Token: tokenfile.FromCredential(s.auth.Current())}
	}

	tf.Meta = meta

	if err := tokenfile.Save(s.tokenPath, tf); err != nil {
		s.logger.Warn("could not save account metadata", slog.String("error", err.Error()))
	}
}
