package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/healthchat-app/HealthChat/internal/core/clock"
	"github.com/healthchat-app/HealthChat/internal/core/notify"
	"github.com/healthchat-app/HealthChat/internal/models"
)

// fakeStore is an in-memory ProfileStore holding a single profile. It
// records every history write so tests can assert on synchronization.
type fakeStore struct {
	profile       *models.Profile
	historyWrites int
	failWrites    bool
	lastUpdate    *models.ProfileUpdate
}

var errStoreDown = errors.New("store down")

func (f *fakeStore) CreateProfile(ctx context.Context, p *models.Profile) error {
	f.profile = p
	return nil
}

func (f *fakeStore) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	if f.profile == nil || f.profile.Email != email {
		return nil, nil
	}
	return f.profile, nil
}

func (f *fakeStore) UpdateProfile(ctx context.Context, email string, upd *models.ProfileUpdate) error {
	f.lastUpdate = upd
	f.profile.FamilyMembers = upd.FamilyMembers
	f.profile.FileRefs = upd.FileRefs
	return nil
}

func (f *fakeStore) UpdateChatHistory(ctx context.Context, email string, history json.RawMessage) error {
	if f.failWrites {
		return errStoreDown
	}
	f.historyWrites++
	f.profile.ChatHistory = history
	return nil
}

func (f *fakeStore) UpdateFamilyChatHistory(ctx context.Context, email, memberID string, history json.RawMessage) error {
	if f.failWrites {
		return errStoreDown
	}
	f.historyWrites++
	for i := range f.profile.FamilyMembers {
		if f.profile.FamilyMembers[i].ID == memberID {
			f.profile.FamilyMembers[i].ChatHistory = history
			return nil
		}
	}
	return errors.New("no such member")
}

func (f *fakeStore) UpdateFileRefs(ctx context.Context, email string, refs []models.FileRef) error {
	f.profile.FileRefs = refs
	return nil
}

func (f *fakeStore) UpdateFamilyFileRefs(ctx context.Context, email, memberID string, refs []models.FileRef) error {
	for i := range f.profile.FamilyMembers {
		if f.profile.FamilyMembers[i].ID == memberID {
			f.profile.FamilyMembers[i].FileRefs = refs
			return nil
		}
	}
	return errors.New("no such member")
}

func (f *fakeStore) ListProfiles(ctx context.Context) ([]models.Profile, error) { return nil, nil }
func (f *fakeStore) SetBanned(ctx context.Context, email string, banned bool) error {
	return nil
}
func (f *fakeStore) DeleteProfile(ctx context.Context, email string) error { return nil }
func (f *fakeStore) Close() error                                          { return nil }

func newTestProfile() *models.Profile {
	return &models.Profile{
		Email:    "jane@example.com",
		FullName: "Jane Smith",
		FamilyMembers: []models.FamilyMember{
			{ID: "fam-1", FullName: "Tom Smith"},
		},
	}
}

func newTestDirectory(t *testing.T) (*SessionDirectory, *fakeStore, *clock.ManagedClock) {
	t.Helper()
	store := &fakeStore{profile: newTestProfile()}
	clk := clock.NewManaged(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewSessionDirectory(store, clk, notify.New()), store, clk
}

func TestLoadSynthesizesGreetingSession(t *testing.T) {
	dir, store, _ := newTestDirectory(t)

	if err := dir.Load(context.Background(), store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sessions := dir.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.Title != DefaultSessionTitle {
		t.Errorf("title = %q, want %q", s.Title, DefaultSessionTitle)
	}
	if len(s.Messages) != 1 || s.Messages[0].Role != models.RoleAssistant {
		t.Fatalf("greeting session messages = %+v", s.Messages)
	}
	if !strings.Contains(s.Messages[0].Content, "Hello Jane!") {
		t.Errorf("greeting not personalized: %q", s.Messages[0].Content)
	}
	if dir.ActiveID() != s.ID {
		t.Errorf("active id = %q, want %q", dir.ActiveID(), s.ID)
	}
	// The synthesized session must have been persisted.
	if store.historyWrites != 1 {
		t.Errorf("history writes = %d, want 1", store.historyWrites)
	}
}

func TestLoadUnknownPatient(t *testing.T) {
	dir, store, _ := newTestDirectory(t)

	err := dir.Load(context.Background(), store.profile, "nope")
	if !errors.Is(err, ErrPatientNotFound) {
		t.Fatalf("err = %v, want ErrPatientNotFound", err)
	}
}

func TestAppendMessageOrderAndTitle(t *testing.T) {
	dir, store, _ := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	id := dir.ActiveID()

	s, err := dir.AppendMessage(ctx, id, models.ChatMessage{Role: models.RoleUser, Content: "What is a fever?"})
	if err != nil {
		t.Fatalf("AppendMessage user: %v", err)
	}
	if s.Title != "What is a fever?" {
		t.Errorf("title = %q, want the first user message", s.Title)
	}

	s, err = dir.AppendMessage(ctx, id, models.ChatMessage{Role: models.RoleAssistant, Content: "A fever is..."})
	if err != nil {
		t.Fatalf("AppendMessage assistant: %v", err)
	}
	roles := []string{}
	for _, m := range s.Messages {
		roles = append(roles, m.Role)
	}
	want := []string{models.RoleAssistant, models.RoleUser, models.RoleAssistant}
	if len(roles) != len(want) {
		t.Fatalf("roles = %v, want %v", roles, want)
	}
	for i := range want {
		if roles[i] != want[i] {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
	}

	// The title is fixed by the first user message; later ones do not change it.
	s, err = dir.AppendMessage(ctx, id, models.ChatMessage{Role: models.RoleUser, Content: "Another question entirely"})
	if err != nil {
		t.Fatalf("AppendMessage second user: %v", err)
	}
	if s.Title != "What is a fever?" {
		t.Errorf("title changed to %q after second user message", s.Title)
	}
}

func TestDeriveTitleTruncation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"short stays whole", "Hi", "Hi"},
		{"whitespace yields empty", "   ", ""},
		{"exactly at the limit", strings.Repeat("a", 25), strings.Repeat("a", 25)},
		{"one over is truncated", "Can I take ibuprofen daily", "Can I take ibuprofen dail..."},
		{"multibyte counted as characters", strings.Repeat("é", 30), strings.Repeat("é", 25) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := deriveTitle(tt.input); got != tt.want {
				t.Errorf("deriveTitle(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestImageOnlyFirstTurnKeepsDefaultTitle(t *testing.T) {
	dir, store, _ := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	id := dir.ActiveID()

	s, err := dir.AppendMessage(ctx, id, models.ChatMessage{
		Role:     models.RoleUser,
		ImageURL: "https://b.s3.test/x.png",
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if s.Title != DefaultSessionTitle {
		t.Errorf("title after image-only turn = %q, want %q", s.Title, DefaultSessionTitle)
	}

	s, err = dir.AppendMessage(ctx, id, models.ChatMessage{Role: models.RoleUser, Content: "   "})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if s.Title != DefaultSessionTitle {
		t.Errorf("title after whitespace turn = %q, want %q", s.Title, DefaultSessionTitle)
	}
}

func TestAppendMessageResortsByRecency(t *testing.T) {
	dir, store, clk := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	firstID := dir.ActiveID()

	clk.WarpForward(time.Minute)
	second, err := dir.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if dir.Sessions()[0].ID != second.ID {
		t.Fatalf("new session is not first in the directory")
	}

	// Activity in the older session moves it back to the top.
	clk.WarpForward(time.Minute)
	if _, err := dir.AppendMessage(ctx, firstID, models.ChatMessage{Role: models.RoleUser, Content: "hello"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if got := dir.Sessions()[0].ID; got != firstID {
		t.Errorf("top of directory = %s, want %s", got, firstID)
	}
	if dir.ActiveID() != firstID {
		t.Errorf("active id = %s, want %s", dir.ActiveID(), firstID)
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	dir, store, _ := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	_, err := dir.AppendMessage(ctx, "deleted-session", models.ChatMessage{Role: models.RoleAssistant, Content: "late reply"})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	if len(dir.Sessions()[0].Messages) != 1 {
		t.Errorf("late reply was appended to another session")
	}
}

func TestLoadMigratesFlatTranscript(t *testing.T) {
	dir, store, _ := newTestDirectory(t)
	store.profile.ChatHistory = json.RawMessage(
		`[{"role":"user","content":"I have a headache"},{"role":"bot","content":"How long has it lasted?"}]`)

	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	sessions := dir.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions, want 1", len(sessions))
	}
	s := sessions[0]
	if s.Title != models.LegacySessionTitle {
		t.Errorf("title = %q, want %q", s.Title, models.LegacySessionTitle)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(s.Messages))
	}
	if s.Messages[1].Role != models.RoleAssistant {
		t.Errorf("legacy bot role not normalized: %q", s.Messages[1].Role)
	}
	if store.historyWrites != 1 {
		t.Fatalf("history writes = %d, want 1", store.historyWrites)
	}

	// A second Load sees current-format data and writes nothing: the
	// migration happens at most once.
	dir2 := NewSessionDirectory(store, clock.NewManaged(time.Now()), notify.New())
	if err := dir2.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if store.historyWrites != 1 {
		t.Errorf("history writes after reload = %d, want 1", store.historyWrites)
	}
	if got := dir2.Sessions()[0].Title; got != models.LegacySessionTitle {
		t.Errorf("reloaded title = %q, want %q", got, models.LegacySessionTitle)
	}
}

func TestSwitchPatientIsolatesHistories(t *testing.T) {
	dir, store, clk := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := dir.AppendMessage(ctx, dir.ActiveID(), models.ChatMessage{Role: models.RoleUser, Content: "note for Jane"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	clk.WarpForward(time.Second)
	if err := dir.SwitchPatient(ctx, store.profile, "fam-1"); err != nil {
		t.Fatalf("SwitchPatient: %v", err)
	}
	sessions := dir.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions for family member, want 1", len(sessions))
	}
	if !strings.Contains(sessions[0].Messages[0].Content, "Hello Tom!") {
		t.Errorf("family greeting = %q", sessions[0].Messages[0].Content)
	}
	for _, m := range sessions[0].Messages {
		if strings.Contains(m.Content, "note for Jane") {
			t.Fatalf("primary patient's messages leaked into family member's list")
		}
	}

	// Switching back restores the primary patient's sessions untouched.
	if err := dir.SwitchPatient(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("switch back: %v", err)
	}
	found := false
	for _, m := range dir.Sessions()[0].Messages {
		if m.Content == "note for Jane" {
			found = true
		}
	}
	if !found {
		t.Errorf("primary patient's message lost across switches")
	}
}

func TestSynchronizeFailureKeepsLocalState(t *testing.T) {
	dir, store, _ := newTestDirectory(t)
	bus := notify.New()
	var events []notify.Event
	bus.Subscribe(func(e notify.Event) { events = append(events, e) })
	dir.bus = bus

	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}
	id := dir.ActiveID()

	store.failWrites = true
	s, err := dir.AppendMessage(ctx, id, models.ChatMessage{Role: models.RoleUser, Content: "still here?"})
	if !errors.Is(err, errStoreDown) {
		t.Fatalf("err = %v, want the store failure", err)
	}
	if s == nil || len(s.Messages) != 2 {
		t.Fatalf("in-memory append rolled back: %+v", s)
	}
	if len(events) != 1 || events[0].Kind != notify.KindError {
		t.Errorf("events = %+v, want one error notification", events)
	}

	// The next successful mutation persists the previously unsaved turn too.
	store.failWrites = false
	if _, err := dir.AppendMessage(ctx, id, models.ChatMessage{Role: models.RoleAssistant, Content: "yes"}); err != nil {
		t.Fatalf("AppendMessage after recovery: %v", err)
	}
	saved, _, err := models.DecodeHistory(store.profile.ChatHistory, time.Now())
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	if got := len(saved[0].Messages); got != 3 {
		t.Errorf("persisted messages = %d, want 3", got)
	}
}

func TestCreateSessionPersistsFullList(t *testing.T) {
	dir, store, clk := newTestDirectory(t)
	ctx := context.Background()
	if err := dir.Load(ctx, store.profile, models.PatientSelf); err != nil {
		t.Fatalf("Load: %v", err)
	}

	clk.WarpForward(time.Minute)
	s, err := dir.CreateSession(ctx)
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if dir.ActiveID() != s.ID {
		t.Errorf("new session not active")
	}

	saved, _, err := models.DecodeHistory(store.profile.ChatHistory, time.Now())
	if err != nil {
		t.Fatalf("DecodeHistory: %v", err)
	}
	if len(saved) != 2 {
		t.Errorf("persisted sessions = %d, want 2", len(saved))
	}
	if saved[0].ID != s.ID {
		t.Errorf("new session is not first in the persisted list")
	}
}
