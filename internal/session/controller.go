// Package session glues the consultation client, image pipeline, and
// profile store together for one conversation turn at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/wenzhenlab/wenzhen/internal/consult"
	"github.com/wenzhenlab/wenzhen/internal/photo"
	"github.com/wenzhenlab/wenzhen/internal/profile"
	"github.com/wenzhenlab/wenzhen/internal/store"
)

// Sentinel errors for turn handling.
var (
	// ErrHistoryLimit indicates the conversation reached the configured
	// maximum and the caller must resolve it via ResolveLimit before
	// sending again.
	ErrHistoryLimit = errors.New("session: history limit reached")

	// ErrEmptyTurn indicates a turn with neither text nor a usable image.
	ErrEmptyTurn = errors.New("session: empty turn")

	// ErrCancelled indicates the in-flight request was cancelled.
	ErrCancelled = errors.New("session: turn cancelled")
)

// imageFailedNotice is surfaced when an attachment cannot be processed.
// The attachment is dropped; the rest of the turn goes ahead.
const imageFailedNotice = "图片处理失败"

// defaultReply substitutes for an empty reply_text in a successful
// envelope.
const defaultReply = "抱歉，暂时无法获取回复"

// LimitChoice is the user's decision when the history limit blocks a
// send. Exactly three choices exist; there is no silent auto-reset.
type LimitChoice int

// LimitChoice values.
const (
	// LimitCancel leaves the conversation untouched.
	LimitCancel LimitChoice = iota

	// LimitKeepContext clears the history but keeps the saved context.
	LimitKeepContext

	// LimitClearAll clears history and context both.
	LimitClearAll
)

// TurnInput is one outgoing consultation turn. Text may be empty only
// when at least one image is attached.
type TurnInput struct {
	Text       string
	FacePath   string
	TonguePath string
}

// TurnResult is the applied outcome of a successful turn.
type TurnResult struct {
	// UserContent is the display form of the sent message, image
	// markers included.
	UserContent string

	// Reply is the assistant's answer, already appended and persisted.
	Reply string

	// Notices are non-fatal warnings raised while preparing the turn,
	// such as a discarded attachment.
	Notices []string
}

// Config holds controller limits.
type Config struct {
	// MaxHistoryMessages bounds the stored history, counted in
	// individual messages. Default 50.
	MaxHistoryMessages int
}

func (c *Config) defaults() {
	if c.MaxHistoryMessages == 0 {
		c.MaxHistoryMessages = 50
	}
}

// Controller orchestrates consultation turns. All store mutation runs
// on the calling goroutine; only image encoding and the network exchange
// happen on workers.
type Controller struct {
	cfg      Config
	store    *store.ProfileStore
	client   *consult.Client
	pipeline *photo.Pipeline
	logger   *slog.Logger
}

// NewController creates a controller over the given collaborators.
func NewController(cfg Config, st *store.ProfileStore, client *consult.Client, pipeline *photo.Pipeline, logger *slog.Logger) *Controller {
	cfg.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{cfg: cfg, store: st, client: client, pipeline: pipeline, logger: logger}
}

// MaxHistoryMessages returns the configured history bound.
func (c *Controller) MaxHistoryMessages() int { return c.cfg.MaxHistoryMessages }

// HistoryLimitReached reports whether the current profile's history is
// at or past the bound.
func (c *Controller) HistoryLimitReached() (bool, error) {
	rec, err := c.store.Current()
	if err != nil {
		return false, err
	}
	return rec.HistoryRounds() >= c.cfg.MaxHistoryMessages, nil
}

// ResolveLimit applies the user's choice for a blocked conversation.
func (c *Controller) ResolveLimit(choice LimitChoice) error {
	if choice == LimitCancel {
		return nil
	}

	rec, err := c.store.Current()
	if err != nil {
		return err
	}
	rec.ClearHistory()
	if choice == LimitClearAll {
		rec.ClearContext()
	}
	return c.store.Update(rec)
}

// encodedImage is the result of one pipeline worker.
type encodedImage struct {
	data string
	err  error
}

// encodeAsync runs the pipeline on its own goroutine, one worker per
// invocation. An empty path yields an immediate empty result.
func (c *Controller) encodeAsync(path string) <-chan encodedImage {
	ch := make(chan encodedImage, 1)
	if path == "" {
		ch <- encodedImage{}
		return ch
	}
	go func() {
		data, err := c.pipeline.EncodeFile(path)
		ch <- encodedImage{data: data, err: err}
	}()
	return ch
}

// SendTurn runs one full consultation turn against the current profile:
// image normalization, optimistic user-message append, dispatch, and
// application (or rollback) of the outcome. It blocks the calling
// goroutine until the turn settles; the outcome is applied on that same
// goroutine.
func (c *Controller) SendTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	rec, err := c.store.Current()
	if err != nil {
		return nil, err
	}

	if rec.HistoryRounds() >= c.cfg.MaxHistoryMessages {
		return nil, fmt.Errorf("%w: %d messages", ErrHistoryLimit, rec.HistoryRounds())
	}

	text := strings.TrimSpace(in.Text)
	if text == "" && in.FacePath == "" && in.TonguePath == "" {
		return nil, ErrEmptyTurn
	}

	// One worker per attachment; both run while we wait here.
	faceCh := c.encodeAsync(in.FacePath)
	tongueCh := c.encodeAsync(in.TonguePath)
	face := <-faceCh
	tongue := <-tongueCh

	var notices []string
	if face.err != nil {
		c.logger.Warn("face image discarded", "path", in.FacePath, "error", face.err)
		notices = append(notices, imageFailedNotice)
		face.data = ""
	}
	if tongue.err != nil {
		c.logger.Warn("tongue image discarded", "path", in.TonguePath, "error", tongue.err)
		notices = append(notices, imageFailedNotice)
		tongue.data = ""
	}

	// Every attachment may have been discarded; the turn still needs
	// something to say.
	if text == "" && face.data == "" && tongue.data == "" {
		return nil, ErrEmptyTurn
	}

	displayContent := buildDisplayContent(text, tongue.data != "", face.data != "")

	// Optimistic append: the user message enters durable history before
	// the exchange, and is rolled back if the exchange fails.
	rec.AppendUserMessage(displayContent)
	if err := c.store.Update(rec); err != nil {
		return nil, err
	}

	req := consult.BuildRequest(rec, text, face.data, tongue.data)
	outcome, ok := <-c.client.Send(ctx, req)
	if !ok {
		// Cancelled mid-flight. Leave no trace of the aborted turn.
		if err := c.rollback(rec); err != nil {
			return nil, err
		}
		return nil, ErrCancelled
	}
	if outcome.Err != nil {
		if err := c.rollback(rec); err != nil {
			return nil, err
		}
		return nil, outcome.Err
	}

	reply := outcome.Response.ReplyText()
	if reply == "" {
		reply = defaultReply
	}
	rec.AppendAssistantMessage(reply)
	rec.MergeContext(outcome.Response.NewContext())
	if err := c.store.Update(rec); err != nil {
		return nil, err
	}

	return &TurnResult{
		UserContent: displayContent,
		Reply:       reply,
		Notices:     notices,
	}, nil
}

// rollback removes the optimistically appended user message so a failed
// turn leaves no trace in durable history.
func (c *Controller) rollback(rec *profile.Record) error {
	rec.RemoveLastMessage()
	return c.store.Update(rec)
}

// buildDisplayContent joins the text with markers for attached images.
func buildDisplayContent(text string, hasTongue, hasFace bool) string {
	parts := make([]string, 0, 3)
	if text != "" {
		parts = append(parts, text)
	}
	if hasTongue {
		parts = append(parts, profile.TongueMarker)
	}
	if hasFace {
		parts = append(parts, profile.FaceMarker)
	}
	return strings.Join(parts, " ")
}

// CancelAll aborts any in-flight consultation requests, best-effort.
func (c *Controller) CancelAll() {
	c.client.CancelAll()
}
