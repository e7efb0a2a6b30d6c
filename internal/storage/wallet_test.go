package storage

import "testing"

func TestValidateWallet(t *testing.T) {
	tests := []struct {
		name    string
		wallet  string
		wantErr bool
	}{
		{
			name:    "valid lowercase address",
			wallet:  "0xabc0000000000000000000000000000000000001",
			wantErr: false,
		},
		{
			name:    "valid checksummed address",
			wallet:  "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
			wantErr: false,
		},
		{
			name:    "missing 0x prefix",
			wallet:  "abc0000000000000000000000000000000000001",
			wantErr: false, // IsHexAddress accepts unprefixed hex
		},
		{
			name:    "too short",
			wallet:  "0xabc",
			wantErr: true,
		},
		{
			name:    "non-hex characters",
			wallet:  "0xzzz0000000000000000000000000000000000001",
			wantErr: true,
		},
		{
			name:    "empty",
			wallet:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWallet(tt.wallet)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateWallet(%q) error = %v, wantErr %v", tt.wallet, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeWallet(t *testing.T) {
	got := NormalizeWallet("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	want := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	if got != want {
		t.Errorf("NormalizeWallet() = %v, want %v", got, want)
	}
}
