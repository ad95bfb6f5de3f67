package names

import "testing"

func TestRemoveDiacritics(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Leon", "Leon"},
		{"Ménache", "Menache"},
		{"Çapeluto", "Capeluto"},
		{"Señora Hasson", "Senora Hasson"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := RemoveDiacritics(tt.input)
			if result != tt.expected {
				t.Errorf("RemoveDiacritics(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestFold(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Estrella Ménache", "estrella menache"},
		{"capeluto-hasson", "capeluto hasson"},
		{"  ROSA   FRANCO ", "rosa franco"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := Fold(tt.input)
			if result != tt.expected {
				t.Errorf("Fold(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name, query string
		want        bool
	}{
		{"Estrella Ménache", "MENACHE", true},
		{"Estrella Ménache", "menáche", true},
		{"Moise Capeluto", "hasson", false},
		{"Moise Capeluto", "", true},
	}

	for _, tt := range tests {
		if got := Contains(tt.name, tt.query); got != tt.want {
			t.Errorf("Contains(%q, %q) = %v, want %v", tt.name, tt.query, got, tt.want)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	tests := map[string]bool{
		"":                       true,
		"   ":                    true,
		"Unidentified Person 12": true,
		"unidentified-7":         true,
		"Leon Capeluto":          false,
	}
	for name, want := range tests {
		if got := IsPlaceholder(name); got != want {
			t.Errorf("IsPlaceholder(%q) = %v, want %v", name, got, want)
		}
	}
}
