package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"waifuapi/internal/util"
	"waifuapi/pkg/ai"
	"waifuapi/pkg/domain"
	"waifuapi/pkg/store"
	"waifuapi/pkg/transcript"
	"waifuapi/pkg/translate"
)

const (
	// defaultChatUserID names the dialog used when a chat request omits user_id.
	defaultChatUserID = "default2"

	maxUserIDLen     = 256
	maxSpeakerLen    = 20
	maxEntryNameLen  = 50
	maxMessageLen    = 1250
	maxSituationLen  = 700
	maxPromptLen     = 1500
	maxDialogEntries = 1000

	// UsersPageSize is the number of ids returned per listing page.
	UsersPageSize = 100

	// translationErrorResponse replaces the reply when a requested
	// translation cannot be served.
	translationErrorResponse = "Translation error. Please try again later."
)

var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL     string
	Store           store.Store
	Completer       ai.Completer
	Translator      translate.Translator
	ModelURL        string
	ModelTimeout    time.Duration
	TranslateURL    string
	TranslateAPIKey string
	DefaultResponse string
	DefaultGenre    string
	UserName        string
	WaifuName       string
}

// App wires together the user registry, dialog storage, the model
// gateway and the optional translation layer behind the HTTP surface.
type App struct {
	store           store.Store
	completer       ai.Completer
	translator      translate.Translator
	defaultResponse string
	defaultGenre    string
	userName        string
	waifuName       string
}

// New constructs the application with database-backed storage for dialogs.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}
	completer := cfg.Completer
	if completer == nil {
		completer = ai.NewClient(cfg.ModelURL, cfg.ModelTimeout)
	}
	// Translation stays off unless a translator is injected or an API
	// key is configured; dialogs are then still stored in English.
	translator := cfg.Translator
	if translator == nil && cfg.TranslateAPIKey != "" {
		translator = translate.NewClient(cfg.TranslateURL, cfg.TranslateAPIKey, cfg.ModelTimeout)
	}
	defaultResponse := cfg.DefaultResponse
	if defaultResponse == "" {
		defaultResponse = "The AI model is currently unavailable. Please try again later."
	}
	defaultGenre := cfg.DefaultGenre
	if defaultGenre == "" {
		defaultGenre = "Romance"
	}
	userName := cfg.UserName
	if userName == "" {
		userName = "User"
	}
	waifuName := cfg.WaifuName
	if waifuName == "" {
		waifuName = "Waifu"
	}
	return &App{
		store:           dataStore,
		completer:       completer,
		translator:      translator,
		defaultResponse: defaultResponse,
		defaultGenre:    defaultGenre,
		userName:        userName,
		waifuName:       waifuName,
	}, nil
}

// CreateUser registers the user id. Creating an existing id is a no-op
// that still reports success.
func (a *App) CreateUser(ctx context.Context, owner, userID string) (string, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return "", err
	}
	if err := a.store.EnsureUser(ctx, owner, id); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// UserExists reports whether the user id is registered.
func (a *App) UserExists(ctx context.Context, owner, userID string) (string, bool, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return "", false, err
	}
	exists, err := a.store.HasUser(ctx, owner, id)
	if err != nil {
		return "", false, fmt.Errorf("check user: %w", err)
	}
	return id, exists, nil
}

// UserMetadata returns the user record with its last-modified marks.
func (a *App) UserMetadata(ctx context.Context, owner, userID string) (domain.User, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUser(ctx, owner, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// DeleteUser removes the user and its dialog. Deleting an absent id
// still reports success.
func (a *App) DeleteUser(ctx context.Context, owner, userID string) (string, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return "", err
	}
	if err := a.store.DeleteUser(ctx, owner, id); err != nil {
		return "", fmt.Errorf("delete user: %w", err)
	}
	return id, nil
}

// CountUsers returns the total number of registered users.
func (a *App) CountUsers(ctx context.Context, owner string) (int, error) {
	count, err := a.store.CountUsers(ctx, owner)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// ListUsersPage returns up to UsersPageSize ids for the zero-indexed
// page. A page beyond the available data yields an empty list.
func (a *App) ListUsersPage(ctx context.Context, owner string, page int) ([]string, error) {
	if page < 0 {
		page = 0
	}
	ids, err := a.store.ListUserIDs(ctx, owner, page*UsersPageSize, UsersPageSize)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// ResetDialog removes all turns, creating the user record when absent.
func (a *App) ResetDialog(ctx context.Context, owner, userID string) (string, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return "", err
	}
	if err := a.store.EnsureUser(ctx, owner, id); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	if _, err := a.store.ReplaceTurns(ctx, owner, id, nil); err != nil {
		return "", fmt.Errorf("reset dialog: %w", err)
	}
	return id, nil
}

// DialogJSON returns the ordered turns for the user.
func (a *App) DialogJSON(ctx context.Context, owner, userID string) ([]domain.Turn, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return nil, err
	}
	exists, err := a.store.HasUser(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, ErrUserNotFound
	}
	turns, err := a.store.ListTurns(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if turns == nil {
		turns = []domain.Turn{}
	}
	return turns, nil
}

// SetDialogJSON replaces the user's dialog with the supplied turns.
func (a *App) SetDialogJSON(ctx context.Context, owner, userID string, turns []domain.Turn) (string, error) {
	id, err := validateUserID(userID)
	if err != nil {
		return "", err
	}
	if err := validateDialog(turns); err != nil {
		return "", err
	}
	found, err := a.store.ReplaceTurns(ctx, owner, id, turns)
	if err != nil {
		return "", fmt.Errorf("replace dialog: %w", err)
	}
	if !found {
		return "", ErrUserNotFound
	}
	return id, nil
}

// DialogString renders the dialog as a single transcript string.
func (a *App) DialogString(ctx context.Context, owner, userID string) (string, error) {
	turns, err := a.DialogJSON(ctx, owner, userID)
	if err != nil {
		return "", err
	}
	return transcript.Render(turns), nil
}

// ChatRequest carries one inbound chat exchange. TranslateFrom and
// TranslateTo are ISO 639-1 tags; unknown tags fall back to "auto".
type ChatRequest struct {
	UserID        string
	Message       string
	FromName      string
	ToName        string
	Situation     string
	TranslateFrom string
	TranslateTo   string
}

// GenerateReply runs the chat flow: load the dialog, assemble the
// prompt, call the model and persist the new exchange in one write.
// Model and validation failures are absorbed into the default reply
// text, translation failures into a translation notice; only storage
// errors are returned.
func (a *App) GenerateReply(ctx context.Context, owner string, req ChatRequest) (string, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = defaultChatUserID
	}
	if _, err := validateUserID(userID); err != nil {
		return a.defaultResponse, nil
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLen {
		return a.defaultResponse, nil
	}

	// The dialog is kept in English. Inbound text is translated before
	// scrubbing and storage; the reply is translated back on the way
	// out, after the exchange is saved.
	fromLang := translate.DefaultLanguage(req.TranslateFrom)
	toLang := translate.DefaultLanguage(req.TranslateTo)
	detected := "auto"
	rawMessage := req.Message
	if a.translator != nil && fromLang != "en" && rawMessage != "" {
		res, err := a.translator.Translate(ctx, "en", fromLang, rawMessage)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("inbound translation failed", "err", err)
			return translationErrorResponse, nil
		}
		rawMessage = res.Text
		detected = translate.DefaultLanguage(res.DetectedSource)
	}

	message := transcript.CleanParagraph(rawMessage, maxMessageLen)
	fromName := transcript.Tail(strings.TrimSpace(req.FromName), maxSpeakerLen)
	if fromName == "" {
		fromName = a.userName
	}
	toName := transcript.Tail(strings.TrimSpace(req.ToName), maxSpeakerLen)
	if toName == "" {
		toName = a.waifuName
	}
	situation := transcript.CleanParagraph(req.Situation, maxSituationLen)

	if err := a.store.EnsureUser(ctx, owner, userID); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}
	turns, err := a.store.ListTurns(ctx, owner, userID)
	if err != nil {
		return "", fmt.Errorf("load dialog: %w", err)
	}
	prompt := buildPrompt(transcript.Render(turns), situation, a.defaultGenre, fromName, toName, message)

	reply, err := a.completer.Complete(ctx, prompt)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("model request failed", "err", err)
		reply = a.defaultResponse
	}

	// The exchange lands in one write so the stored dialog always matches
	// what the caller received, fallback replies included. An empty
	// message asks the model to open the conversation; only the reply is
	// recorded then.
	exchange := make([]domain.Turn, 0, 2)
	if message != "" {
		exchange = append(exchange, domain.Turn{Name: fromName, Message: message})
	}
	exchange = append(exchange, domain.Turn{Name: toName, Message: reply})
	if err := a.store.AppendTurns(ctx, owner, userID, exchange); err != nil {
		return "", fmt.Errorf("save dialog: %w", err)
	}

	if a.translator != nil {
		out, err := a.translateReply(ctx, reply, fromLang, toLang, detected)
		if err != nil {
			util.LoggerFromContext(ctx).Warn("outbound translation failed", "err", err)
			return translationErrorResponse, nil
		}
		reply = out
	}
	return reply, nil
}

// translateReply picks the outbound language: an explicit translate_to
// wins, otherwise the reply goes back to the detected or requested
// source language. English sources need no round trip.
func (a *App) translateReply(ctx context.Context, reply, fromLang, toLang, detected string) (string, error) {
	var target string
	switch {
	case toLang != "auto":
		target = toLang
	case fromLang == "auto" && detected != "auto" && detected != "en":
		target = detected
	case fromLang == "auto" || fromLang == "en":
		return reply, nil
	default:
		target = fromLang
	}
	res, err := a.translator.Translate(ctx, target, "en", reply)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func validateUserID(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidUserID)
	}
	if utf8.RuneCountInString(userID) > maxUserIDLen {
		return "", fmt.Errorf("%w: user id exceeds %d characters", ErrInvalidUserID, maxUserIDLen)
	}
	if !userIDPattern.MatchString(userID) {
		return "", fmt.Errorf("%w: user id contains invalid characters", ErrInvalidUserID)
	}
	return userID, nil
}

func validateDialog(turns []domain.Turn) error {
	if len(turns) > maxDialogEntries {
		return fmt.Errorf("%w: dialog exceeds %d entries", ErrInvalidDialog, maxDialogEntries)
	}
	for i, t := range turns {
		if t.Index != i {
			return fmt.Errorf("%w: entry %d has index %d, want %d", ErrInvalidDialog, i, t.Index, i)
		}
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%w: entry %d is missing a name", ErrInvalidDialog, i)
		}
		if utf8.RuneCountInString(t.Name) > maxEntryNameLen {
			return fmt.Errorf("%w: entry %d name exceeds %d characters", ErrInvalidDialog, i, maxEntryNameLen)
		}
		if t.Message == "" {
			return fmt.Errorf("%w: entry %d message is empty", ErrInvalidDialog, i)
		}
		if utf8.RuneCountInString(t.Message) > maxMessageLen {
			return fmt.Errorf("%w: entry %d message exceeds %d characters", ErrInvalidDialog, i, maxMessageLen)
		}
	}
	return nil
}

// buildPrompt assembles the model prompt: genre tag, truncated history,
// situation and the trailing unanswered turn. The rune budget shrinks
// by the situation length so the newest turns survive truncation.
func buildPrompt(history, situation, genre, fromName, toName, message string) string {
	budget := maxPromptLen - utf8.RuneCountInString(situation)
	history = transcript.Tail(history, budget)
	var prompt string
	if message == "" {
		prompt = fmt.Sprintf(`%s %s %s said: "`, history, situation, toName)
	} else {
		prompt = fmt.Sprintf(`%s %s %s said: "%s" %s said: "`, history, situation, fromName, message, toName)
	}
	prompt = fmt.Sprintf("[ Genre: %s ] %s", genre, prompt)
	return transcript.Tail(prompt, budget)
}
