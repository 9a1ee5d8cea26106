package domain

import "testing"

func TestUserContext_TenantKeys(t *testing.T) {
	tests := []struct {
		name     string
		ctx      UserContext
		expected []string
	}{
		{"empty", UserContext{}, nil},
		{"agency only", UserContext{ActiveCompanyID: "C1"}, []string{"agency_C1"}},
		{"location first", UserContext{ActiveCompanyID: "C1", ActiveLocationID: "L9"}, []string{"location_L9", "agency_C1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.ctx.TenantKeys()
			if len(got) != len(tt.expected) {
				t.Fatalf("got %v, want %v", got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("key %d: got %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestDiscoveryResult_Partial(t *testing.T) {
	r := &DiscoveryResult{Found: 2, Minted: 2}
	if r.Partial() {
		t.Error("complete run should not be partial")
	}
	r.Failed = append(r.Failed, FailedMint{SubAccountID: "B", Reason: "boom"})
	if !r.Partial() {
		t.Error("run with failures should be partial")
	}
}
