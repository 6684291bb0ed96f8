package murmurerr

import (
	"errors"
	"strings"
	"testing"
)

func TestErrorMessageWithAndWithoutWrap(t *testing.T) {
	e := NotFound("project not found: demo")
	if e.Error() != "project not found: demo" {
		t.Fatalf("unexpected message: %q", e.Error())
	}
	cause := errors.New("boom")
	e.Wrap(cause)
	if e.Error() != "project not found: demo: boom" {
		t.Fatalf("unexpected wrapped message: %q", e.Error())
	}
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to see through Unwrap")
	}
}

func TestKindDiscrimination(t *testing.T) {
	cases := []struct {
		err  *Error
		kind Kind
	}{
		{NotFound("x"), KindNotFound},
		{InvalidInput("x"), KindInvalidInput},
		{Conflict("x"), KindConflict},
		{Timeout("x"), KindTimeout},
		{ChannelClosed("x"), KindChannelClosed},
		{IO("x"), KindIO},
	}
	for _, c := range cases {
		var target *Error
		if !errors.As(c.err, &target) {
			t.Fatalf("errors.As failed for kind %s", c.kind)
		}
		if target.Kind != c.kind {
			t.Fatalf("expected kind %s, got %s", c.kind, target.Kind)
		}
	}
}

func TestUpstreamTruncatesLongStderr(t *testing.T) {
	long := strings.Repeat("x", 3000)
	e := Upstream("git merge failed", []string{"merge", "--no-ff", "branch"}, long)
	stderr, _ := e.Details["stderr"].(string)
	if !strings.HasSuffix(stderr, "...(truncated)") {
		t.Fatalf("expected truncated suffix, got tail %q", stderr[len(stderr)-20:])
	}
	if len(stderr) >= len(long) {
		t.Fatalf("expected stderr snippet shorter than original, got %d bytes", len(stderr))
	}
}

func TestWithDetailAccumulates(t *testing.T) {
	e := Conflict("dup").WithDetail("name", "demo").WithDetail("attempt", 2)
	if e.Details["name"] != "demo" || e.Details["attempt"] != 2 {
		t.Fatalf("unexpected details: %+v", e.Details)
	}
}
