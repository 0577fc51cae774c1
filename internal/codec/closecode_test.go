package codec

import "testing"

func TestValidCloseCode(t *testing.T) {
	valid := []uint16{Unauthorized.Code, Forbidden.Code, ResetConnection.Code}
	for _, code := range valid {
		if !ValidCloseCode(code) {
			t.Fatalf("expected %d to be valid", code)
		}
	}
	if ValidCloseCode(9999) {
		t.Fatal("expected an arbitrary code to be invalid")
	}
	if ValidCloseCode(0) {
		t.Fatal("expected zero to be invalid")
	}
}

func TestResolveCloseCodePreservesReason(t *testing.T) {
	cc := ResolveCloseCode(Unauthorized.Code, "token expired")
	if cc.Code != Unauthorized.Code || cc.Reason != "token expired" {
		t.Fatalf("got %+v", cc)
	}
}

func TestResolveCloseCodeFillsDefaultReason(t *testing.T) {
	cases := []struct {
		code uint16
		want string
	}{
		{Unauthorized.Code, Unauthorized.Reason},
		{Forbidden.Code, Forbidden.Reason},
		{ResetConnection.Code, ResetConnection.Reason},
	}
	for _, c := range cases {
		cc := ResolveCloseCode(c.code, "")
		if cc.Reason != c.want {
			t.Fatalf("code %d: reason = %q, want %q", c.code, cc.Reason, c.want)
		}
	}
}

func TestResolveCloseCodeFallsBackToForbidden(t *testing.T) {
	cc := ResolveCloseCode(0, "whatever")
	if cc.Code != Forbidden.Code {
		t.Fatalf("code = %d, want %d", cc.Code, Forbidden.Code)
	}

	cc = ResolveCloseCode(1234, "whatever")
	if cc.Code != Forbidden.Code || cc.Reason != Forbidden.Reason {
		t.Fatalf("got %+v, want fallback to Forbidden", cc)
	}
}
