package secrets

import "testing"

func TestParseAndGet(t *testing.T) {
	tbl, err := Parse(`{"ssoClientId":"abc","ssoClientSecret":"def","ssoRefreshToken":"ghi"}`)
	if err != nil {
		t.Fatal(err)
	}
	v, err := tbl.Get("ssoClientId")
	if err != nil || v != "abc" {
		t.Fatalf("Get(ssoClientId) = %q, %v", v, err)
	}
}

func TestGetMissingKeyIsError(t *testing.T) {
	tbl, err := Parse(`{}`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Get("missing"); err == nil {
		t.Fatal("Get(missing) = nil error, want error")
	}
}

func TestParseEmptyDefaultsToEmptyObject(t *testing.T) {
	tbl, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tbl.Get("anything"); err == nil {
		t.Fatal("expected error on empty table")
	}
}

func TestParseTooManyEntries(t *testing.T) {
	raw := "{"
	for i := 0; i < MaxEntries+1; i++ {
		if i > 0 {
			raw += ","
		}
		raw += `"k` + string(rune('a'+i)) + `":"v"`
	}
	raw += "}"
	if _, err := Parse(raw); err == nil {
		t.Fatal("expected error for too many entries")
	}
}
