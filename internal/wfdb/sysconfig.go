package wfdb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Stock entries every generated rootfs gets before configured users are
// merged in.
var basePasswdLines = []string{
	"root:x:0:0:root:/root:/bin/bash",
	"daemon:x:1:1:daemon:/usr/sbin:/usr/sbin/nologin",
	"bin:x:2:2:bin:/bin:/usr/sbin/nologin",
	"sys:x:3:3:sys:/dev:/usr/sbin/nologin",
}

var baseGroupLines = []string{
	"root:x:0:",
	"daemon:x:1:",
	"bin:x:2:",
	"sys:x:3:",
}

var extraGroupLines = []string{
	"wheel:x:10:",
	"sudo:x:27:",
	"users:x:100:",
}

const fstabContent = `# file system  mount-point  type   options          dump  fsck
#                                                            order
/dev/sda1      /            ext4   defaults         1     1
proc           /proc        proc   nosuid,noexec,nodev 0     0
sysfs          /sys         sysfs  nosuid,noexec,nodev 0     0
devpts         /dev/pts     devpts gid=5,mode=620   0     0
tmpfs          /run         tmpfs  defaults         0     0
devtmpfs       /dev         devtmpfs mode=0755,nosuid 0     0
`

// writeSystemConfig generates the core /etc files for the target root:
// passwd, group, fstab, and os-release. writeSystemUsers later rewrites
// passwd/group with the configured users merged in.
func writeSystemConfig(cfg *Config) error {
	etcDir := filepath.Join(cfg.Build.LFSDir, "etc")
	if err := os.MkdirAll(etcDir, 0o755); err != nil {
		return err
	}

	passwd := strings.Join(basePasswdLines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(etcDir, "passwd"), []byte(passwd), 0o644); err != nil {
		return fmt.Errorf("failed to write passwd: %w", err)
	}

	group := strings.Join(baseGroupLines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(etcDir, "group"), []byte(group), 0o644); err != nil {
		return fmt.Errorf("failed to write group: %w", err)
	}

	if err := os.WriteFile(filepath.Join(etcDir, "fstab"), []byte(fstabContent), 0o644); err != nil {
		return fmt.Errorf("failed to write fstab: %w", err)
	}

	osRelease := fmt.Sprintf(`NAME=%q
VERSION=%q
ID=%s
ID_LIKE=linux
PRETTY_NAME=%q
VERSION_ID=%q
HOME_URL="https://github.com/windfall-tech/windfall-linux"
`,
		cfg.Meta.Name,
		cfg.Meta.Version,
		strings.ToLower(strings.TrimSpace(cfg.Meta.Name)),
		cfg.Meta.Name+" "+cfg.Meta.Version,
		cfg.Meta.Version,
	)
	if err := os.WriteFile(filepath.Join(etcDir, "os-release"), []byte(osRelease), 0o644); err != nil {
		return fmt.Errorf("failed to write os-release: %w", err)
	}

	debugf("System configuration created in %s\n", etcDir)
	return nil
}

// writeSystemUsers rewrites passwd and group with the configured users
// merged onto the stock entries. root is never duplicated; a user's primary
// group is created when no group of the same name exists, and declared
// supplementary groups get the user appended to their member list. Unknown
// supplementary groups are ignored.
func writeSystemUsers(cfg *Config) error {
	etcDir := filepath.Join(cfg.Build.LFSDir, "etc")
	if err := os.MkdirAll(etcDir, 0o755); err != nil {
		return err
	}

	passwdLines := append([]string{}, basePasswdLines...)
	groupLines := append([]string{}, baseGroupLines...)
	groupLines = append(groupLines, extraGroupLines...)

	for _, u := range cfg.Users.System {
		if u.Name == "root" {
			// root already exists
			continue
		}
		passwdLines = append(passwdLines,
			fmt.Sprintf("%s:x:%d:%d:%s:%s:%s", u.Name, u.UID, u.GID, u.Name, u.Home, u.Shell))

		groupExists := false
		for _, line := range groupLines {
			if strings.HasPrefix(line, u.Name+":") {
				groupExists = true
				break
			}
		}
		if !groupExists {
			groupLines = append(groupLines, fmt.Sprintf("%s:x:%d:", u.Name, u.GID))
		}

		for _, g := range u.Groups {
			for i, line := range groupLines {
				if strings.HasPrefix(line, g+":") {
					groupLines[i] = addGroupMember(line, u.Name)
					break
				}
			}
		}
	}

	passwd := strings.Join(passwdLines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(etcDir, "passwd"), []byte(passwd), 0o644); err != nil {
		return fmt.Errorf("failed to write passwd: %w", err)
	}
	group := strings.Join(groupLines, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(etcDir, "group"), []byte(group), 0o644); err != nil {
		return fmt.Errorf("failed to write group: %w", err)
	}

	debugf("Created %d system users\n", len(cfg.Users.System))
	return nil
}

// addGroupMember appends user to a group(5) line unless already listed.
func addGroupMember(line, user string) string {
	parts := strings.Split(line, ":")
	if len(parts) != 4 {
		return line
	}
	var members []string
	if parts[3] != "" {
		members = strings.Split(parts[3], ",")
	}
	for _, m := range members {
		if m == user {
			return line
		}
	}
	members = append(members, user)
	parts[3] = strings.Join(members, ",")
	return strings.Join(parts, ":")
}
