package integrate

import "testing"

func TestServerListString(t *testing.T) {
	m := &Manifest{
		Schema: 1,
		Mods: []ManifestMod{
			{Name: "Sandbox Mod", Source: "http://x/sandbox.pak"},
			{Name: "Brave; New Mod", Source: "https://mod.io/g/drg/m/brave"},
			{Name: "Approved Mod", Source: "https://mod.io/g/drg/m/approved"},
		},
	}
	approvals := map[string]string{
		"https://mod.io/g/drg/m/brave":    "Verified",
		"https://mod.io/g/drg/m/approved": "Approved",
	}

	got := m.ServerListString(approvals)
	want := "mint;" + integratorVersion + ";V;Brave New Mod;A;Approved Mod;S;Sandbox Mod"
	if got != want {
		t.Errorf("ServerListString = %q, want %q", got, want)
	}
}

func TestServerListStringEmpty(t *testing.T) {
	m := &Manifest{Schema: 1}
	if got := m.ServerListString(nil); got != "mint;"+integratorVersion {
		t.Errorf("ServerListString = %q", got)
	}
}
