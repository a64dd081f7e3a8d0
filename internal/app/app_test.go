package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"waifuapi/pkg/domain"
	"waifuapi/pkg/store"
)

const testOwner = "0_no_current_user_specified"

type fakeCompleter struct {
	reply     string
	err       error
	gotPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	f.gotPrompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestApp(t *testing.T, completer *fakeCompleter) *App {
	t.Helper()
	if completer == nil {
		completer = &fakeCompleter{reply: "ok"}
	}
	a, err := New(Config{
		Store:     store.NewMemoryStore(),
		Completer: completer,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestCreateUserIsIdempotent(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	id, err := a.CreateUser(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if id != "alice" {
		t.Fatalf("unexpected id: %q", id)
	}
	if _, err := a.CreateUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("create existing user: %v", err)
	}
	count, err := a.CountUsers(ctx, testOwner)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user, got %d", count)
	}
	_, exists, err := a.UserExists(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("user exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected user to exist")
	}
}

func TestCreateUserRejectsInvalidID(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	for _, id := range []string{"", "has space", "semi;colon", "ünïcode"} {
		if _, err := a.CreateUser(ctx, testOwner, id); !errors.Is(err, ErrInvalidUserID) {
			t.Fatalf("id %q: expected ErrInvalidUserID, got %v", id, err)
		}
	}
}

func TestUserMetadata(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.UserMetadata(ctx, testOwner, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if _, err := a.CreateUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	user, err := a.UserMetadata(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("user metadata: %v", err)
	}
	if user.UserID != "alice" {
		t.Fatalf("unexpected user id: %q", user.UserID)
	}
	if user.LastModifiedUnix() == 0 {
		t.Fatalf("expected last modified timestamp")
	}
	if user.LastModifiedDatetime() == "" {
		t.Fatalf("expected last modified datetime")
	}
}

func TestDeleteUserIsIdempotent(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.CreateUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := a.DeleteUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	if _, err := a.DeleteUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("delete absent user: %v", err)
	}
	_, exists, err := a.UserExists(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("user exists: %v", err)
	}
	if exists {
		t.Fatalf("expected user gone after delete")
	}
}

func TestListUsersPage(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		if _, err := a.CreateUser(ctx, testOwner, fmt.Sprintf("user-%03d", i)); err != nil {
			t.Fatalf("create user %d: %v", i, err)
		}
	}

	page, err := a.ListUsersPage(ctx, testOwner, 0)
	if err != nil {
		t.Fatalf("list page 0: %v", err)
	}
	if len(page) != UsersPageSize {
		t.Fatalf("page 0 size = %d, want %d", len(page), UsersPageSize)
	}
	if page[0] != "user-000" || page[99] != "user-099" {
		t.Fatalf("unexpected page 0 bounds: %q .. %q", page[0], page[99])
	}

	page, err = a.ListUsersPage(ctx, testOwner, 1)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page) != 50 {
		t.Fatalf("page 1 size = %d, want 50", len(page))
	}
	if page[0] != "user-100" {
		t.Fatalf("unexpected first id on page 1: %q", page[0])
	}

	page, err = a.ListUsersPage(ctx, testOwner, 2)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected empty page past the end, got %d ids", len(page))
	}
}

func TestSetDialogRoundTrip(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.CreateUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	want := []domain.Turn{
		{Index: 0, Name: "User", Message: "Hello"},
		{Index: 1, Name: "Waifu", Message: "Hi there!"},
	}
	if _, err := a.SetDialogJSON(ctx, testOwner, "alice", want); err != nil {
		t.Fatalf("set dialog: %v", err)
	}
	got, err := a.DialogJSON(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("dialog length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("turn %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSetDialogValidation(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.CreateUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}

	cases := []struct {
		name  string
		turns []domain.Turn
	}{
		{"index gap", []domain.Turn{{Index: 1, Name: "A", Message: "hi"}}},
		{"duplicate index", []domain.Turn{
			{Index: 0, Name: "A", Message: "hi"},
			{Index: 0, Name: "B", Message: "hello"},
		}},
		{"missing name", []domain.Turn{{Index: 0, Name: "  ", Message: "hi"}}},
		{"empty message", []domain.Turn{{Index: 0, Name: "A", Message: ""}}},
	}
	for _, tc := range cases {
		if _, err := a.SetDialogJSON(ctx, testOwner, "alice", tc.turns); !errors.Is(err, ErrInvalidDialog) {
			t.Fatalf("%s: expected ErrInvalidDialog, got %v", tc.name, err)
		}
	}
}

func TestSetDialogRequiresUser(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	turns := []domain.Turn{{Index: 0, Name: "A", Message: "hi"}}
	if _, err := a.SetDialogJSON(ctx, testOwner, "ghost", turns); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestDialogStringRendersTranscript(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	if _, err := a.CreateUser(ctx, testOwner, "alice"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	turns := []domain.Turn{
		{Index: 0, Name: "User", Message: "How are you?"},
		{Index: 1, Name: "Waifu", Message: "Fine!"},
	}
	if _, err := a.SetDialogJSON(ctx, testOwner, "alice", turns); err != nil {
		t.Fatalf("set dialog: %v", err)
	}
	got, err := a.DialogString(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("dialog string: %v", err)
	}
	want := `User said: "How are you?" Waifu said: "Fine!"`
	if got != want {
		t.Fatalf("dialog string = %q, want %q", got, want)
	}
}

func TestResetDialogCreatesUser(t *testing.T) {
	a := newTestApp(t, nil)
	ctx := context.Background()

	id, err := a.ResetDialog(ctx, testOwner, "fresh")
	if err != nil {
		t.Fatalf("reset dialog: %v", err)
	}
	if id != "fresh" {
		t.Fatalf("unexpected id: %q", id)
	}
	_, exists, err := a.UserExists(ctx, testOwner, "fresh")
	if err != nil {
		t.Fatalf("user exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected reset to create the user")
	}
	turns, err := a.DialogJSON(ctx, testOwner, "fresh")
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("expected empty dialog, got %d turns", len(turns))
	}
}

func TestGenerateReplyAppendsBothTurns(t *testing.T) {
	completer := &fakeCompleter{reply: "Hi"}
	a := newTestApp(t, completer)
	ctx := context.Background()

	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "alice", Message: "Hello"})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "Hi" {
		t.Fatalf("reply = %q, want Hi", reply)
	}

	turns, err := a.DialogJSON(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	want := []domain.Turn{
		{Index: 0, Name: "User", Message: "Hello"},
		{Index: 1, Name: "Waifu", Message: "Hi"},
	}
	if len(turns) != len(want) {
		t.Fatalf("dialog length = %d, want %d", len(turns), len(want))
	}
	for i := range want {
		if turns[i] != want[i] {
			t.Fatalf("turn %d = %+v, want %+v", i, turns[i], want[i])
		}
	}
}

func TestGenerateReplyFallsBackOnModelFailure(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("connection refused")}
	a := newTestApp(t, completer)
	ctx := context.Background()

	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "bob", Message: "hi"})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "The AI model is currently unavailable. Please try again later." {
		t.Fatalf("unexpected fallback reply: %q", reply)
	}

	// The fallback still records both turns so the stored dialog matches
	// what the caller received.
	turns, err := a.DialogJSON(ctx, testOwner, "bob")
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("dialog length = %d, want 2", len(turns))
	}
	if turns[1].Message != reply {
		t.Fatalf("stored reply = %q, want fallback text", turns[1].Message)
	}
}

func TestGenerateReplyDefaultsUserID(t *testing.T) {
	a := newTestApp(t, &fakeCompleter{reply: "hey"})
	ctx := context.Background()

	if _, err := a.GenerateReply(ctx, testOwner, ChatRequest{Message: "hello"}); err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	_, exists, err := a.UserExists(ctx, testOwner, "default2")
	if err != nil {
		t.Fatalf("user exists: %v", err)
	}
	if !exists {
		t.Fatalf("expected dialog stored under the default chat user id")
	}
}

func TestGenerateReplyAbsorbsInvalidUserID(t *testing.T) {
	a := newTestApp(t, &fakeCompleter{reply: "hey"})
	ctx := context.Background()

	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "not valid!", Message: "hi"})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "The AI model is currently unavailable. Please try again later." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	count, err := a.CountUsers(ctx, testOwner)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no users stored, got %d", count)
	}
}

func TestGenerateReplyPromptShape(t *testing.T) {
	completer := &fakeCompleter{reply: "Hi"}
	a := newTestApp(t, completer)
	ctx := context.Background()

	if _, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "alice", Message: "Hello"}); err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	want := `[ Genre: Romance ]   User said: "Hello" Waifu said: "`
	if completer.gotPrompt != want {
		t.Fatalf("prompt = %q, want %q", completer.gotPrompt, want)
	}

	// The second exchange carries the stored history.
	if _, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "alice", Message: "How are you?"}); err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	want = `[ Genre: Romance ] User said: "Hello" Waifu said: "Hi"  User said: "How are you?" Waifu said: "`
	if completer.gotPrompt != want {
		t.Fatalf("prompt = %q, want %q", completer.gotPrompt, want)
	}
}

func TestGenerateReplyEmptyMessageLetsModelOpen(t *testing.T) {
	completer := &fakeCompleter{reply: "Oh, hello"}
	a := newTestApp(t, completer)
	ctx := context.Background()

	if _, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "alice"}); err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	want := `[ Genre: Romance ]   Waifu said: "`
	if completer.gotPrompt != want {
		t.Fatalf("prompt = %q, want %q", completer.gotPrompt, want)
	}

	// Only the model's opener is recorded; there is no user turn to store.
	turns, err := a.DialogJSON(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("get dialog: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("dialog length = %d, want 1", len(turns))
	}
	if turns[0] != (domain.Turn{Index: 0, Name: "Waifu", Message: "Oh, hello"}) {
		t.Fatalf("stored turn = %+v", turns[0])
	}
}

func TestGenerateReplyRejectsOverlongMessage(t *testing.T) {
	a := newTestApp(t, &fakeCompleter{reply: "hey"})
	ctx := context.Background()

	long := strings.Repeat("a", 1251)
	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "alice", Message: long})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "The AI model is currently unavailable. Please try again later." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	count, err := a.CountUsers(ctx, testOwner)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected nothing stored, got %d users", count)
	}
}
