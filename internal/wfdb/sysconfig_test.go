package wfdb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEtcFile(t *testing.T, cfg *Config, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.Build.LFSDir, "etc", name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(data)
}

func TestWriteSystemConfig(t *testing.T) {
	cfg := buildTestConfig(t)
	if err := writeSystemConfig(cfg); err != nil {
		t.Fatalf("writeSystemConfig error: %v", err)
	}

	passwd := readEtcFile(t, cfg, "passwd")
	if !strings.HasPrefix(passwd, "root:x:0:0:root:/root:/bin/bash\n") {
		t.Errorf("passwd does not start with the root entry:\n%s", passwd)
	}
	for _, user := range []string{"daemon:", "bin:", "sys:"} {
		if !strings.Contains(passwd, "\n"+user) {
			t.Errorf("passwd missing stock entry %s", user)
		}
	}

	group := readEtcFile(t, cfg, "group")
	if !strings.HasPrefix(group, "root:x:0:\n") {
		t.Errorf("group does not start with the root entry:\n%s", group)
	}

	fstab := readEtcFile(t, cfg, "fstab")
	for _, fs := range []string{"/dev/sda1", "proc", "sysfs", "devpts", "tmpfs"} {
		if !strings.Contains(fstab, fs) {
			t.Errorf("fstab missing %s entry", fs)
		}
	}

	osRelease := readEtcFile(t, cfg, "os-release")
	for _, line := range []string{
		`NAME="WindfallLinux"`,
		`ID=windfalllinux`,
		`VERSION_ID="1.0"`,
		`PRETTY_NAME="WindfallLinux 1.0"`,
	} {
		if !strings.Contains(osRelease, line) {
			t.Errorf("os-release missing %q:\n%s", line, osRelease)
		}
	}
}

func TestWriteSystemUsers(t *testing.T) {
	cfg := buildTestConfig(t)
	cfg.Users.System = []User{
		{
			Name: "builder", UID: 1000, GID: 1000,
			Home: "/home/builder", Shell: "/bin/bash",
			Groups: []string{"wheel", "users"},
		},
	}

	if err := writeSystemUsers(cfg); err != nil {
		t.Fatalf("writeSystemUsers error: %v", err)
	}

	passwd := readEtcFile(t, cfg, "passwd")
	if !strings.Contains(passwd, "builder:x:1000:1000:builder:/home/builder:/bin/bash") {
		t.Errorf("passwd missing builder entry:\n%s", passwd)
	}

	group := readEtcFile(t, cfg, "group")
	if !strings.Contains(group, "builder:x:1000:") {
		t.Errorf("group missing primary group for builder:\n%s", group)
	}
	if !strings.Contains(group, "wheel:x:10:builder") {
		t.Errorf("builder not appended to wheel:\n%s", group)
	}
	if !strings.Contains(group, "users:x:100:builder") {
		t.Errorf("builder not appended to users:\n%s", group)
	}
}

func TestWriteSystemUsersRootNotDuplicated(t *testing.T) {
	cfg := buildTestConfig(t)
	cfg.Users.System = []User{
		{Name: "root", UID: 0, GID: 0, Home: "/root", Shell: "/bin/bash"},
	}

	if err := writeSystemUsers(cfg); err != nil {
		t.Fatalf("writeSystemUsers error: %v", err)
	}

	passwd := readEtcFile(t, cfg, "passwd")
	if got := strings.Count(passwd, "root:x:0:0:"); got != 1 {
		t.Errorf("root appears %d times in passwd, want 1:\n%s", got, passwd)
	}
}

func TestWriteSystemUsersUnknownGroupIgnored(t *testing.T) {
	cfg := buildTestConfig(t)
	cfg.Users.System = []User{
		{Name: "ghost", UID: 1001, GID: 1001, Home: "/home/ghost", Shell: "/bin/sh",
			Groups: []string{"no-such-group"}},
	}

	if err := writeSystemUsers(cfg); err != nil {
		t.Fatalf("writeSystemUsers error: %v", err)
	}

	group := readEtcFile(t, cfg, "group")
	if strings.Contains(group, "no-such-group") {
		t.Errorf("unknown supplementary group should be ignored, not created:\n%s", group)
	}
	if !strings.Contains(group, "ghost:x:1001:") {
		t.Errorf("primary group for ghost missing:\n%s", group)
	}
}

func TestAddGroupMember(t *testing.T) {
	tests := []struct {
		line, user, want string
	}{
		{"wheel:x:10:", "lfs", "wheel:x:10:lfs"},
		{"wheel:x:10:alice", "bob", "wheel:x:10:alice,bob"},
		{"wheel:x:10:alice,bob", "bob", "wheel:x:10:alice,bob"},
		{"malformed", "bob", "malformed"},
	}
	for _, tt := range tests {
		if got := addGroupMember(tt.line, tt.user); got != tt.want {
			t.Errorf("addGroupMember(%q, %q) = %q, want %q", tt.line, tt.user, got, tt.want)
		}
	}
}

func TestWriteSystemUsersOverwritesBaseFiles(t *testing.T) {
	cfg := buildTestConfig(t)
	if err := writeSystemConfig(cfg); err != nil {
		t.Fatal(err)
	}
	cfg.Users.System = []User{
		{Name: "svc", UID: 999, GID: 999, Home: "/var/lib/svc", Shell: "/usr/sbin/nologin"},
	}
	if err := writeSystemUsers(cfg); err != nil {
		t.Fatal(err)
	}

	passwd := readEtcFile(t, cfg, "passwd")
	if !strings.Contains(passwd, "svc:x:999:999:") {
		t.Errorf("merged passwd missing configured user:\n%s", passwd)
	}
	// Stock entries survive the rewrite.
	if !strings.Contains(passwd, "daemon:x:1:1:") {
		t.Errorf("merged passwd lost stock entries:\n%s", passwd)
	}
}
