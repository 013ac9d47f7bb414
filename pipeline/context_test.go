package pipeline

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestContextAppendOnly(t *testing.T) {
	c := NewContext(map[string]any{"b": 1, "a": 2})
	if diff := cmp.Diff([]string{"a", "b"}, c.Keys()); diff != "" {
		t.Errorf("initial keys should be sorted (-want +got):\n%s", diff)
	}
	if err := c.Set("z", "last"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Set("a", "again"); !errors.Is(err, ErrKeyExists) {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("existing value must not change, got %v", v)
	}
}

func TestContextSnapshotIsIndependent(t *testing.T) {
	c := NewContext(map[string]any{"a": "1"})
	snap := c.Snapshot()
	if err := snap.Set("b", "2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if c.Has("b") {
		t.Error("writes to a snapshot must not leak into the original")
	}
}

func TestContextViewRestrictsKeys(t *testing.T) {
	c := NewContext(map[string]any{"a": "1", "b": []string{"x", "y"}})

	view, err := c.View("b")
	if err != nil {
		t.Fatalf("View failed: %v", err)
	}
	if _, ok := view["a"]; ok {
		t.Error("view must only hold requested keys")
	}
	if got := view.Text("b"); got != "x\ny" {
		t.Errorf("unexpected text %q", got)
	}

	_, err = c.View("a", "missing")
	var missing *MissingInputError
	if !errors.As(err, &missing) || missing.Key != "missing" {
		t.Fatalf("expected MissingInputError for 'missing', got %v", err)
	}
	if !errors.Is(err, ErrMissingInput) {
		t.Error("expected ErrMissingInput sentinel")
	}
}

func TestContextMarshalJSONKeepsOrder(t *testing.T) {
	c := NewContext(nil)
	_ = c.Set("zeta", "1")
	_ = c.Set("alpha", ArtifactRef{Name: "a.sql", URI: "file://a.sql", Size: 3})

	b, err := c.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	want := `{"zeta":"1","alpha":{"name":"a.sql","uri":"file://a.sql","size":3}}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}
}

func TestViewArtifact(t *testing.T) {
	ref := ArtifactRef{Name: "r", URI: "mem://r"}
	view := View{"value": ref, "pointer": &ref, "text": "plain"}

	for _, key := range []string{"value", "pointer"} {
		got, ok := view.Artifact(key)
		if !ok || got != ref {
			t.Errorf("Artifact(%q) = %v, %v", key, got, ok)
		}
	}
	if _, ok := view.Artifact("text"); ok {
		t.Error("plain text is not an artifact")
	}
	if got := view.Text("value"); got != "mem://r" {
		t.Errorf("artifact text should be its URI, got %q", got)
	}
}

func TestFailedStepsNested(t *testing.T) {
	err := &StageError{Stage: "root", Index: 1, Child: "fan", Err: &CompositeError{
		Stage: "fan",
		Failures: []ChildFailure{
			{Name: "b", Err: &StepError{Step: "b", Reason: "x"}},
			{Name: "nested", Err: &StageError{Stage: "nested", Child: "c", Err: &StepError{Step: "c", Reason: "y"}}},
			{Name: "timed", Err: &TimeoutError{Stage: "timed"}},
		},
	}}
	if diff := cmp.Diff([]string{"b", "c", "timed"}, FailedSteps(err)); diff != "" {
		t.Errorf("FailedSteps mismatch (-want +got):\n%s", diff)
	}
}
