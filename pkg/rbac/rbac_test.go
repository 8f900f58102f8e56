package rbac

import (
	"errors"
	"testing"
)

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role, perm string
		want       bool
	}{
		{RoleClient, PermissionApproveMilestone, true},
		{RoleFreelancer, PermissionApproveMilestone, false},
		{RoleFreelancer, PermissionSubmitMilestone, true},
		{RoleAdmin, PermissionResolveDispute, true},
		{RoleClient, PermissionResolveDispute, false},
		{"guest", PermissionOpenDispute, false},
	}
	for _, tt := range tests {
		if got := HasPermission(tt.role, tt.perm); got != tt.want {
			t.Errorf("HasPermission(%q, %q) = %v, want %v", tt.role, tt.perm, got, tt.want)
		}
	}
}

func TestCheckPermissionError(t *testing.T) {
	err := CheckPermission("u1", RoleClient, PermissionReplayOutbox)
	var denied *PermissionDeniedError
	if !errors.As(err, &denied) || denied.Permission != PermissionReplayOutbox {
		t.Fatalf("got %v", err)
	}
	if err := CheckPermission("a1", RoleAdmin, PermissionReplayOutbox); err != nil {
		t.Fatalf("admin: %v", err)
	}
}

func TestValidateUserIDInPayload(t *testing.T) {
	if err := ValidateUserIDInPayload("u1", ""); err != nil {
		t.Errorf("empty payload id: %v", err)
	}
	if err := ValidateUserIDInPayload("u1", "u2"); err == nil {
		t.Error("expected mismatch error")
	}
}
