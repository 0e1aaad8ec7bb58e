package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{ContractStatusFunded, ContractStatusDelivered, true},
		{ContractStatusDelivered, ContractStatusReleased, true},
		{ContractStatusFunded, ContractStatusReleased, true},

		// Dispute path
		{ContractStatusFunded, ContractStatusDisputed, true},
		{ContractStatusDelivered, ContractStatusDisputed, true},
		{ContractStatusDisputed, ContractStatusRefunded, true},

		// Expiry refunds
		{ContractStatusFunded, ContractStatusRefunded, true},
		{ContractStatusDelivered, ContractStatusRefunded, true},

		// Invalid transitions
		{ContractStatusReleased, ContractStatusRefunded, false},
		{ContractStatusRefunded, ContractStatusReleased, false},
		{ContractStatusReleased, ContractStatusDisputed, false},
		{ContractStatusDisputed, ContractStatusDisputed, false},
		{ContractStatusDisputed, ContractStatusReleased, false},
		{ContractStatusDisputed, ContractStatusDelivered, false},
		{ContractStatusDelivered, ContractStatusDelivered, false},
		{ContractStatusDelivered, ContractStatusFunded, false},
		{ContractStatusCreated, ContractStatusFunded, false},
		{"nonexistent", ContractStatusFunded, false},
		{ContractStatusFunded, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			got := IsValidTransition(tt.from, tt.to)
			if got != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitions(t *testing.T) {
	statuses := []string{
		ContractStatusCreated, ContractStatusFunded, ContractStatusDelivered,
		ContractStatusReleased, ContractStatusDisputed, ContractStatusRefunded,
	}
	for _, s := range statuses {
		if _, ok := ValidContractTransitions[s]; !ok {
			t.Errorf("status %q missing from ValidContractTransitions", s)
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []string{ContractStatusReleased, ContractStatusRefunded} {
		if !IsTerminalStatus(s) {
			t.Errorf("%q should be terminal", s)
		}
		if len(ValidContractTransitions[s]) != 0 {
			t.Errorf("terminal status %q has outgoing transitions", s)
		}
	}
	if IsTerminalStatus(ContractStatusDisputed) {
		t.Error("disputed must not be terminal")
	}
}

// Creation produces funded directly; nothing may ever move a contract into created.
func TestCreatedStatusIsUnreachable(t *testing.T) {
	for from, targets := range ValidContractTransitions {
		for _, to := range targets {
			if to == ContractStatusCreated {
				t.Errorf("transition %s -> created must not exist", from)
			}
		}
	}
	for _, action := range []string{ContractActionDeliver, ContractActionRelease, ContractActionDispute, ContractActionRefund} {
		if target, _ := ActionTarget(action); target == ContractStatusCreated {
			t.Errorf("action %s targets created", action)
		}
	}
}

func TestActionSources(t *testing.T) {
	tests := []struct {
		action string
		want   []string
	}{
		{ContractActionDeliver, []string{ContractStatusFunded}},
		{ContractActionRelease, []string{ContractStatusFunded, ContractStatusDelivered}},
		{ContractActionDispute, []string{ContractStatusFunded, ContractStatusDelivered}},
		{ContractActionRefund, []string{ContractStatusFunded, ContractStatusDelivered, ContractStatusDisputed}},
		{"bogus", nil},
	}
	for _, tt := range tests {
		got := ActionSources(tt.action)
		if len(got) != len(tt.want) {
			t.Fatalf("ActionSources(%s) = %v, want %v", tt.action, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ActionSources(%s)[%d] = %s, want %s", tt.action, i, got[i], tt.want[i])
			}
		}
	}
}

func TestContractIsExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := &Contract{ExpiryTimestamp: now.Unix() - 1}
	if !c.IsExpired(now) {
		t.Error("expected expired")
	}
	c.ExpiryTimestamp = now.Unix()
	if c.IsExpired(now) {
		t.Error("expiry instant itself is not past")
	}
	c.ExpiryTimestamp = 0
	if c.IsExpired(now) {
		t.Error("zero expiry never expires")
	}
}

func TestContractIsParty(t *testing.T) {
	payer, freelancer := uuid.New(), uuid.New()
	c := &Contract{PayerID: payer, FreelancerID: freelancer}
	if !c.IsParty(payer) || !c.IsParty(freelancer) {
		t.Error("parties not recognised")
	}
	if c.IsParty(uuid.New()) {
		t.Error("stranger recognised as party")
	}
}
