package exceptions

import "testing"

func TestAssignPriorityCriticalOnHighAmountAndAge(t *testing.T) {
	peers := []int64{100, 200, 300, 400, 500, 600, 700, 800, 900, 100000}
	got := AssignPriority(100000, peers, 5)
	if got != "critical" {
		t.Fatalf("expected critical, got %v", got)
	}
}

func TestAssignPriorityHighOnAgeAloneWithLowAmount(t *testing.T) {
	peers := []int64{100, 200, 300, 400, 500}
	got := AssignPriority(100, peers, 3)
	if got != "high" {
		t.Fatalf("expected high, got %v", got)
	}
}

func TestAssignPriorityLowOnFreshSmallInvoice(t *testing.T) {
	peers := []int64{100, 200, 300, 400, 500}
	got := AssignPriority(100, peers, 0)
	if got != "low" {
		t.Fatalf("expected low, got %v", got)
	}
}

func TestAssignPriorityMediumDefault(t *testing.T) {
	peers := []int64{100, 200, 300, 400, 500}
	got := AssignPriority(300, peers, 1)
	if got != "medium" {
		t.Fatalf("expected medium, got %v", got)
	}
}

func TestAssignPriorityNeutralWithoutPeerSample(t *testing.T) {
	got := AssignPriority(500, nil, 0)
	if got != "medium" {
		t.Fatalf("expected medium when there is no peer population, got %v", got)
	}
}
