package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"waifuapi/pkg/store"
	"waifuapi/pkg/translate"
)

type translateCall struct {
	Target string
	Source string
	Text   string
}

type fakeTranslator struct {
	err      error
	detected string
	calls    []translateCall
}

func (f *fakeTranslator) Translate(_ context.Context, target, source, text string) (translate.Result, error) {
	f.calls = append(f.calls, translateCall{Target: target, Source: source, Text: text})
	if f.err != nil {
		return translate.Result{}, f.err
	}
	if target == "en" {
		return translate.Result{Text: "How are you", DetectedSource: f.detected}, nil
	}
	return translate.Result{Text: "[" + target + "] " + text, DetectedSource: "en"}, nil
}

func newTranslatingApp(t *testing.T, completer *fakeCompleter, translator *fakeTranslator) *App {
	t.Helper()
	if completer == nil {
		completer = &fakeCompleter{reply: "I am fine."}
	}
	a, err := New(Config{
		Store:      store.NewMemoryStore(),
		Completer:  completer,
		Translator: translator,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestGenerateReplyTranslatesInboundAndOutbound(t *testing.T) {
	translator := &fakeTranslator{detected: "ja"}
	completer := &fakeCompleter{reply: "I am fine."}
	a := newTranslatingApp(t, completer, translator)
	ctx := context.Background()

	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{UserID: "alice", Message: "元気ですか"})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "[ja] I am fine." {
		t.Fatalf("expected reply in the detected language, got %q", reply)
	}
	if len(translator.calls) != 2 {
		t.Fatalf("expected inbound and outbound calls, got %+v", translator.calls)
	}
	in, out := translator.calls[0], translator.calls[1]
	if in.Target != "en" || in.Source != "auto" || in.Text != "元気ですか" {
		t.Fatalf("unexpected inbound call: %+v", in)
	}
	if out.Target != "ja" || out.Source != "en" || out.Text != "I am fine." {
		t.Fatalf("unexpected outbound call: %+v", out)
	}
	if !strings.Contains(completer.gotPrompt, `User said: "How are you"`) {
		t.Fatalf("prompt should carry the English text, got %q", completer.gotPrompt)
	}

	// The stored exchange stays in English.
	turns, err := a.DialogJSON(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("dialog json: %v", err)
	}
	if len(turns) != 2 || turns[0].Message != "How are you" || turns[1].Message != "I am fine." {
		t.Fatalf("unexpected stored dialog: %+v", turns)
	}
}

func TestGenerateReplyHonorsTranslateTo(t *testing.T) {
	translator := &fakeTranslator{detected: "en"}
	a := newTranslatingApp(t, &fakeCompleter{reply: "Sure."}, translator)

	reply, err := a.GenerateReply(context.Background(), testOwner, ChatRequest{
		UserID:        "alice",
		Message:       "Please",
		TranslateFrom: "en",
		TranslateTo:   "fr",
	})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "[fr] Sure." {
		t.Fatalf("expected reply translated to fr, got %q", reply)
	}
	if len(translator.calls) != 1 {
		t.Fatalf("english input should skip inbound translation, got %+v", translator.calls)
	}
	if call := translator.calls[0]; call.Target != "fr" || call.Source != "en" || call.Text != "Sure." {
		t.Fatalf("unexpected outbound call: %+v", call)
	}
}

func TestGenerateReplyLeavesEnglishRepliesAlone(t *testing.T) {
	translator := &fakeTranslator{detected: "en"}
	a := newTranslatingApp(t, &fakeCompleter{reply: "I am fine."}, translator)

	reply, err := a.GenerateReply(context.Background(), testOwner, ChatRequest{UserID: "alice", Message: "How are you"})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "I am fine." {
		t.Fatalf("detected English should skip the outbound leg, got %q", reply)
	}
	if len(translator.calls) != 1 {
		t.Fatalf("expected only the inbound detection call, got %+v", translator.calls)
	}
}

func TestGenerateReplyEmptyMessageSkipsTranslation(t *testing.T) {
	translator := &fakeTranslator{detected: "ja"}
	a := newTranslatingApp(t, &fakeCompleter{reply: "Hello."}, translator)

	reply, err := a.GenerateReply(context.Background(), testOwner, ChatRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "Hello." {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if len(translator.calls) != 0 {
		t.Fatalf("empty message should not be translated, got %+v", translator.calls)
	}
}

func TestGenerateReplyInboundTranslationFailure(t *testing.T) {
	translator := &fakeTranslator{err: errors.New("quota exceeded")}
	a := newTranslatingApp(t, nil, translator)
	ctx := context.Background()

	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{
		UserID:        "alice",
		Message:       "Bonjour",
		TranslateFrom: "fr",
	})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "Translation error. Please try again later." {
		t.Fatalf("expected translation error notice, got %q", reply)
	}

	// Failing before storage leaves no trace of the request.
	count, err := a.CountUsers(ctx, testOwner)
	if err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no users after inbound failure, got %d", count)
	}
}

func TestGenerateReplyOutboundTranslationFailureKeepsExchange(t *testing.T) {
	translator := &fakeTranslator{err: errors.New("quota exceeded")}
	a := newTranslatingApp(t, &fakeCompleter{reply: "Done."}, translator)
	ctx := context.Background()

	reply, err := a.GenerateReply(ctx, testOwner, ChatRequest{
		UserID:        "alice",
		Message:       "Hello",
		TranslateFrom: "en",
		TranslateTo:   "de",
	})
	if err != nil {
		t.Fatalf("generate reply: %v", err)
	}
	if reply != "Translation error. Please try again later." {
		t.Fatalf("expected translation error notice, got %q", reply)
	}

	turns, err := a.DialogJSON(ctx, testOwner, "alice")
	if err != nil {
		t.Fatalf("dialog json: %v", err)
	}
	if len(turns) != 2 || turns[1].Message != "Done." {
		t.Fatalf("exchange should be stored in English, got %+v", turns)
	}
}
