package trackkey

import "testing"

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"plain path", "/Music/Album/01-Track.flac", "/Music/Album/01-Track.flac"},
		{"redundant separators", "/Music//Album/./01-Track.flac", "/Music/Album/01-Track.flac"},
		{"trailing slash", "/Music/Album/", "/Music/Album"},
		{"backslashes", "Music\\Album\\track.mp3", "Music/Album/track.mp3"},
		{"case preserved", "/Music/Song.MP3", "/Music/Song.MP3"},
		{"parent traversal", "/Music/Album/../Other/track.flac", "/Music/Other/track.flac"},
		{"empty path", "", "."},
		{"relative dot", "./track.mp3", "track.mp3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Canonicalize(tt.path); got != tt.expected {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}

func TestCanonicalizeUnicodeComposition(t *testing.T) {
	// NFD (decomposed) and NFC (composed) spellings of the same name must
	// produce the same key. "é" as e + combining acute vs. precomposed.
	decomposed := "/Music/Béla/track.flac"
	composed := "/Music/Béla/track.flac"

	if Canonicalize(decomposed) != Canonicalize(composed) {
		t.Errorf("NFD and NFC paths produced different keys: %q vs %q",
			Canonicalize(decomposed), Canonicalize(composed))
	}
	if Canonicalize(composed) != composed {
		t.Errorf("composed path changed by canonicalization: %q", Canonicalize(composed))
	}
}

func TestCanonicalizeIsPure(t *testing.T) {
	path := "/Music/Album/01 - Black Coffee .dsf"
	first := Canonicalize(path)
	for i := 0; i < 100; i++ {
		if got := Canonicalize(path); got != first {
			t.Fatalf("Canonicalize not deterministic: %q then %q", first, got)
		}
	}
}

func TestLookupKeys(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected []string
	}{
		{
			"mixed case yields legacy variant",
			"/Music/Song.mp3",
			[]string{"/Music/Song.mp3", "/music/song.mp3"},
		},
		{
			"already lowercase yields single key",
			"/music/song.mp3",
			[]string{"/music/song.mp3"},
		},
		{
			"empty path",
			"",
			[]string{"."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LookupKeys(tt.path)
			if len(got) != len(tt.expected) {
				t.Fatalf("LookupKeys(%q) = %v, want %v", tt.path, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("LookupKeys(%q)[%d] = %q, want %q", tt.path, i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestLookupKeysCanonicalFirst(t *testing.T) {
	keys := LookupKeys("/Music/Song.mp3")
	if keys[0] != Canonicalize("/Music/Song.mp3") {
		t.Errorf("first lookup key %q is not the canonical key", keys[0])
	}
}

func TestMatchesCaseFoldCollision(t *testing.T) {
	// Two spellings a case-insensitive filesystem treats as the same file
	// must match through the legacy variant, while their canonical forms
	// stay case-preserving.
	a := "/Music/Song.mp3"
	b := "/Music/song.mp3"

	if !Matches(a, b) {
		t.Errorf("Matches(%q, %q) = false, want true", a, b)
	}
	if Canonicalize(a) == Canonicalize(b) {
		t.Errorf("canonical keys collapsed case: %q", Canonicalize(a))
	}
	if Matches("/Music/Song.mp3", "/Music/Other.mp3") {
		t.Error("Matches reported unrelated paths as identical")
	}
}
