package claims

import (
	"fmt"
	"sync"
	"testing"
)

func TestClaimRejectsDuplicate(t *testing.T) {
	r := New()
	if err := r.Claim("demo", "1", "a-1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := r.Claim("demo", "1", "a-2"); err == nil {
		t.Fatal("expected conflict claiming an already-held issue")
	}
	if err := r.Claim("demo", "1", "a-1"); err != nil {
		t.Fatalf("re-claiming own issue should be idempotent: %v", err)
	}
}

func TestReleaseByAgentRemovesAll(t *testing.T) {
	r := New()
	_ = r.Claim("demo", "1", "a-1")
	_ = r.Claim("demo", "2", "a-1")
	_ = r.Claim("demo", "3", "a-2")

	r.ReleaseByAgent("a-1")

	if _, ok := r.AgentFor("demo", "1"); ok {
		t.Fatal("claim 1 should be released")
	}
	if _, ok := r.AgentFor("demo", "2"); ok {
		t.Fatal("claim 2 should be released")
	}
	if a, ok := r.AgentFor("demo", "3"); !ok || a != "a-2" {
		t.Fatal("claim 3 should survive, owned by a-2")
	}
}

// TestClaimUniquenessUnderConcurrency is a stress test for invariant 1: at
// every point at most one agent holds (project, issue).
func TestClaimUniquenessUnderConcurrency(t *testing.T) {
	r := New()
	const workers = 50
	const issue = "1"

	var wg sync.WaitGroup
	successes := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent := fmt.Sprintf("a-%d", i)
			successes[i] = r.Claim("demo", issue, agent) == nil
		}(i)
	}
	wg.Wait()

	won := 0
	for _, ok := range successes {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winner, got %d", won)
	}

	holder, ok := r.AgentFor("demo", issue)
	if !ok {
		t.Fatal("expected a holder after concurrent claims")
	}

	r.Release("demo", issue)
	if _, ok := r.AgentFor("demo", issue); ok {
		t.Fatal("claim should be gone after release")
	}
	_ = holder
}

func TestListFiltersByProject(t *testing.T) {
	r := New()
	_ = r.Claim("demo", "1", "a-1")
	_ = r.Claim("other", "1", "a-2")

	all := r.List("")
	if len(all) != 2 {
		t.Fatalf("expected 2 claims total, got %d", len(all))
	}
	demoOnly := r.List("demo")
	if len(demoOnly) != 1 || demoOnly[0].Project != "demo" {
		t.Fatalf("expected 1 demo claim, got %+v", demoOnly)
	}
}
