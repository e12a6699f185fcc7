package wfdb

import (
	"reflect"
	"strings"
	"testing"
)

func TestBuildEnvironmentContract(t *testing.T) {
	t.Setenv("WFDB_AMBIENT_PROBE", "survives")

	env := buildEnvironment("/mnt/test-lfs", 4)

	want := map[string]string{
		"LFS":       "/mnt/test-lfs",
		"LC_ALL":    "POSIX",
		"PATH":      "/usr/bin:/bin",
		"MAKEFLAGS": "-j4",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("env[%s] = %q, want %q", k, env[k], v)
		}
	}

	tgt := env["LFS_TGT"]
	if !strings.HasSuffix(tgt, "-lfs-linux-gnu") {
		t.Errorf("LFS_TGT = %q, want *-lfs-linux-gnu", tgt)
	}
	if strings.HasPrefix(tgt, "-") {
		t.Errorf("LFS_TGT = %q has an empty machine name", tgt)
	}

	// Ambient variables outside the contract pass through untouched.
	if env["WFDB_AMBIENT_PROBE"] != "survives" {
		t.Errorf("ambient variable dropped, env[WFDB_AMBIENT_PROBE] = %q", env["WFDB_AMBIENT_PROBE"])
	}
}

func TestBuildEnvironmentIndependentCopies(t *testing.T) {
	env1 := buildEnvironment("/mnt/lfs", 2)
	env1["PATH"] = "/tampered"
	env1["LEAKED"] = "yes"

	env2 := buildEnvironment("/mnt/lfs", 2)
	if env2["PATH"] != "/usr/bin:/bin" {
		t.Errorf("env2[PATH] = %q, mutation leaked between calls", env2["PATH"])
	}
	if _, ok := env2["LEAKED"]; ok {
		t.Error("added key leaked into a later environment")
	}
}

func TestMachineName(t *testing.T) {
	m := machineName()
	if m == "" {
		t.Fatal("machineName returned empty string")
	}
	if strings.ContainsAny(m, " \t\n") {
		t.Errorf("machineName = %q contains whitespace", m)
	}
	// Go runtime spellings must be normalized to uname spellings.
	if m == "amd64" || m == "arm64" {
		t.Errorf("machineName = %q, want normalized hardware name", m)
	}
}

func TestEnvironSlice(t *testing.T) {
	got := environSlice(map[string]string{"B": "2", "A": "1", "C": "3"})
	want := []string{"A=1", "B=2", "C=3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("environSlice = %v, want %v", got, want)
	}
}

func TestEnvironSliceEmpty(t *testing.T) {
	if got := environSlice(nil); len(got) != 0 {
		t.Errorf("environSlice(nil) = %v, want empty", got)
	}
}
