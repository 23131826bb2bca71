package extract

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		title string
		want  Identifiers
	}{
		{
			"Kraftwerk - Autobahn 1974 Germany EMI 1C 062-82 135",
			Identifiers{
				Artist:        "Kraftwerk",
				Album:         "Autobahn",
				Year:          1974,
				Country:       "DE",
				Label:         "EMI",
				CatalogNumber: "1C06282135",
			},
		},
		{
			"The Beatles - Abbey Road (1969 UK Parlophone PCS 7088)",
			Identifiers{
				Artist:        "The Beatles",
				Album:         "Abbey Road",
				Year:          1969,
				Country:       "UK",
				Label:         "Parlophone",
				CatalogNumber: "PCS7088",
			},
		},
		{
			"Led Zeppelin: Houses Of The Holy Atlantic 1973 Reissue",
			Identifiers{
				Artist:       "Led Zeppelin",
				Album:        "Houses Of The Holy Atlantic",
				Year:         1973,
				Label:        "Atlantic",
				PressingNote: "reissue",
			},
		},
		{
			"David Bowie - Low (RCA) 724382483718",
			Identifiers{
				Artist:  "David Bowie",
				Album:   "Low",
				Label:   "RCA",
				Barcode: "724382483718",
			},
		},
		{
			"The Clash - London Calling Vinyl LP NEW SEALED",
			Identifiers{
				Artist: "The Clash",
				Album:  "London Calling",
			},
		},
		{
			// No separator: artist/album unrecoverable, the rest still parses.
			"Nirvana Nevermind 1991 Vinyl",
			Identifiers{Year: 1991},
		},
		{
			// Single-character halves are rejected.
			"X - Y",
			Identifiers{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			got := Parse(tt.title)
			if got != tt.want {
				t.Errorf("Parse(%q)\n got %+v\nwant %+v", tt.title, got, tt.want)
			}
		})
	}
}

func TestParse_PressingNotes(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Pink Floyd - Meddle 1st Pressing", "first_press"},
		{"Pink Floyd - Meddle first edition", "first_press"},
		{"Original pressing with inner sleeve", "original"},
		{"2016 remaster 180g", "reissue"},
		{"White label promo copy", "promo"},
		{"Rare test pressing", "test_pressing"},
		{"Nothing notable here", ""},
	}
	for _, tt := range tests {
		if got := Parse(tt.title).PressingNote; got != tt.want {
			t.Errorf("PressingNote(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestParse_CountryPriority(t *testing.T) {
	// UK is checked before EU, so a title naming both resolves to UK.
	id := Parse("Rare UK European pressing")
	if id.Country != "UK" {
		t.Errorf("Country = %q, want UK", id.Country)
	}
}

func TestNormalizeCatNo(t *testing.T) {
	tests := []struct{ in, want string }{
		{"1C 062-82 135", "1C06282135"},
		{"SHVL 804", "SHVL804"},
		{"shvl-804", "SHVL804"},
		{"PCS7169", "PCS7169"},
	}
	for _, tt := range tests {
		if got := NormalizeCatNo(tt.in); got != tt.want {
			t.Errorf("NormalizeCatNo(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHasStrongKey(t *testing.T) {
	if (Identifiers{}).HasStrongKey() {
		t.Error("empty identifiers must not report a strong key")
	}
	if !(Identifiers{CatalogNumber: "SHVL804"}).HasStrongKey() {
		t.Error("catalogue number is a strong key")
	}
	if !(Identifiers{Barcode: "724382483718"}).HasStrongKey() {
		t.Error("barcode is a strong key")
	}
}
