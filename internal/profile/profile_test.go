package profile_test

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/wenzhenlab/wenzhen/internal/jsonval"
	"github.com/wenzhenlab/wenzhen/internal/profile"
)

func identityOf(t *testing.T, r *profile.Record) (name, sex string, age string) {
	t.Helper()
	obj, ok := r.Context[profile.ContextProfileKey].ObjectVal()
	if !ok {
		t.Fatalf("context[%q] is not an object", profile.ContextProfileKey)
	}
	name, _ = obj["name"].StringVal()
	sex, _ = obj["sex"].StringVal()
	n, _ := obj["age"].NumberVal()
	return name, sex, n.String()
}

func TestNew_SeedsIdentityProjection(t *testing.T) {
	t.Parallel()

	r := profile.New("阿明", "男", 30)

	if !strings.HasPrefix(r.ID, "profile_") {
		t.Errorf("ID = %q, want profile_ prefix", r.ID)
	}
	name, sex, age := identityOf(t, r)
	if name != "阿明" || sex != "男" || age != "30" {
		t.Errorf("identity projection = (%q, %q, %s), want (阿明, 男, 30)", name, sex, age)
	}
	if r.CreatedAt == 0 || r.UpdatedAt == 0 {
		t.Errorf("timestamps not set: created=%d updated=%d", r.CreatedAt, r.UpdatedAt)
	}
}

func TestNewID_Unique(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := profile.NewID()
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestSetters_KeepProjectionInSync(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)

	steps := []func(){
		func() { r.SetName("B") },
		func() { r.SetSex("女") },
		func() { r.SetAge(31) },
		func() { r.SetName("C") },
		func() { r.SetAge(32) },
	}
	for i, step := range steps {
		before := r.UpdatedAt
		step()
		name, sex, age := identityOf(t, r)
		if name != r.Name || sex != r.Sex || age != jsonNumber(r.Age) {
			t.Fatalf("step %d: projection (%q, %q, %s) out of sync with (%q, %q, %d)",
				i, name, sex, age, r.Name, r.Sex, r.Age)
		}
		if r.UpdatedAt < before {
			t.Fatalf("step %d: UpdatedAt went backwards", i)
		}
	}
}

func jsonNumber(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestMergeContext_NeverTouchesIdentity(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	r.MergeContext(jsonval.Object{
		"profile": jsonval.String("spoofed"),
		"k":       jsonval.String("v"),
	})

	name, sex, age := identityOf(t, r)
	if name != "A" || sex != "男" || age != "30" {
		t.Errorf("identity overwritten by merge: (%q, %q, %s)", name, sex, age)
	}
	if s, _ := r.Context["k"].StringVal(); s != "v" {
		t.Errorf("context[k] = %q, want v", s)
	}
}

func TestMergeContext_ServerWinsForOtherKeys(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	r.MergeContext(jsonval.Object{"tongue": jsonval.String("白腻")})
	r.MergeContext(jsonval.Object{"tongue": jsonval.String("红")})

	if s, _ := r.Context["tongue"].StringVal(); s != "红" {
		t.Errorf("context[tongue] = %q, want 红", s)
	}
}

func TestMergeContext_EmptyIsNoOp(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	before := r.UpdatedAt

	r.MergeContext(nil)
	r.MergeContext(jsonval.Object{})

	if r.UpdatedAt != before {
		t.Errorf("empty merge bumped UpdatedAt: %d -> %d", before, r.UpdatedAt)
	}
}

func TestClearContext_LeavesOnlyIdentity(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	r.MergeContext(jsonval.Object{
		"tongue":       jsonval.String("白腻"),
		"main_symptom": jsonval.String("头疼"),
	})

	r.ClearContext()

	if len(r.Context) != 1 {
		t.Fatalf("context has %d keys after clear, want 1", len(r.Context))
	}
	name, sex, age := identityOf(t, r)
	if name != "A" || sex != "男" || age != "30" {
		t.Errorf("identity lost across clear: (%q, %q, %s)", name, sex, age)
	}
}

func TestClearHistory_KeepsContext(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	r.AppendUserMessage("头疼")
	r.AppendAssistantMessage("注意休息")
	r.MergeContext(jsonval.Object{"main_symptom": jsonval.String("头疼")})

	r.ClearHistory()

	if len(r.History) != 0 {
		t.Errorf("history has %d entries after clear, want 0", len(r.History))
	}
	if s, _ := r.Context["main_symptom"].StringVal(); s != "头疼" {
		t.Errorf("context lost across history clear: %q", s)
	}
}

func TestHistoryRounds_CountsIndividualMessages(t *testing.T) {
	t.Parallel()

	// The limit is applied to raw message count, not user/assistant
	// pairs: a full exchange advances the count by two.
	r := profile.New("A", "男", 30)
	if got := r.HistoryRounds(); got != 0 {
		t.Fatalf("HistoryRounds() = %d, want 0", got)
	}
	r.AppendUserMessage("头疼")
	if got := r.HistoryRounds(); got != 1 {
		t.Fatalf("HistoryRounds() = %d, want 1", got)
	}
	r.AppendAssistantMessage("注意休息")
	if got := r.HistoryRounds(); got != 2 {
		t.Fatalf("HistoryRounds() = %d, want 2", got)
	}
}

func TestRemoveLastMessage(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	r.AppendUserMessage("头疼")
	r.RemoveLastMessage()
	if len(r.History) != 0 {
		t.Errorf("history has %d entries, want 0", len(r.History))
	}

	// Removing from empty history is harmless.
	r.RemoveLastMessage()
	if len(r.History) != 0 {
		t.Errorf("history has %d entries after double remove, want 0", len(r.History))
	}
}

func TestRecord_JSONRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		build func() *profile.Record
	}{
		{
			"populated",
			func() *profile.Record {
				r := profile.New("阿明", "男", 30)
				r.AppendUserMessage("头疼 [舌像]")
				r.AppendAssistantMessage("注意休息")
				r.MergeContext(jsonval.Object{
					"tongue": jsonval.String("白腻"),
					"visits": jsonval.Int(3),
				})
				return r
			},
		},
		{
			"empty history and fresh context",
			func() *profile.Record { return profile.New("", "女", 0) },
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			orig := tc.build()
			raw, err := json.Marshal(orig)
			if err != nil {
				t.Fatalf("Marshal: unexpected error: %v", err)
			}

			var back profile.Record
			if err := json.Unmarshal(raw, &back); err != nil {
				t.Fatalf("Unmarshal: unexpected error: %v", err)
			}

			if back.ID != orig.ID || back.Name != orig.Name || back.Sex != orig.Sex || back.Age != orig.Age {
				t.Errorf("identity fields changed: got %+v", back)
			}
			if back.CreatedAt != orig.CreatedAt || back.UpdatedAt != orig.UpdatedAt {
				t.Errorf("timestamps changed: got (%d, %d), want (%d, %d)",
					back.CreatedAt, back.UpdatedAt, orig.CreatedAt, orig.UpdatedAt)
			}
			if len(back.History) != len(orig.History) {
				t.Fatalf("history length %d, want %d", len(back.History), len(orig.History))
			}
			for i := range orig.History {
				if back.History[i].Role != orig.History[i].Role ||
					back.History[i].Content != orig.History[i].Content {
					t.Errorf("history[%d] = %+v, want %+v", i, back.History[i], orig.History[i])
				}
			}
			if !back.Context.Equal(orig.Context) {
				t.Errorf("context changed across round trip")
			}
		})
	}
}

func TestMessage_TransientFieldsNotSerialized(t *testing.T) {
	t.Parallel()

	m := profile.NewLoadingMessage()
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: unexpected error: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("Unmarshal: unexpected error: %v", err)
	}
	want := map[string]bool{"role": true, "content": true}
	for k := range fields {
		if !want[k] {
			t.Errorf("unexpected serialized field %q", k)
		}
	}
}

func TestClone_IsIndependent(t *testing.T) {
	t.Parallel()

	r := profile.New("A", "男", 30)
	r.AppendUserMessage("头疼")
	r.MergeContext(jsonval.Object{"k": jsonval.String("v")})

	c := r.Clone()
	c.SetName("B")
	c.AppendUserMessage("发烧")
	c.MergeContext(jsonval.Object{"k": jsonval.String("changed")})

	if r.Name != "A" {
		t.Errorf("clone mutation reached original name: %q", r.Name)
	}
	if len(r.History) != 1 {
		t.Errorf("clone append reached original history: %d entries", len(r.History))
	}
	if s, _ := r.Context["k"].StringVal(); s != "v" {
		t.Errorf("clone merge reached original context: %q", s)
	}
	if !reflect.DeepEqual(c.History[0], r.History[0]) {
		t.Errorf("shared prefix diverged unexpectedly")
	}
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		want string
	}{
		{"阿明", "阿明"},
		{"", "未命名"},
		{"   ", "未命名"},
	}
	for _, tc := range cases {
		r := profile.New(tc.name, "男", 30)
		if got := r.DisplayName(); got != tc.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}
