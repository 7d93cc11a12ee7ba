// Package cloudinit generates NoCloud seed data for VM provisioning.
//
// The generated user-data sets up a desktop-testing guest: a user
// account with SSH access, the manifest's package list, a Wayland
// compositor running both as a headless systemd user service and via
// TTY autologin for the SPICE display.
//
// See https://cloudinit.readthedocs.io/en/latest/reference/datasources/nocloud.html
package cloudinit

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vmtools/vmt/internal/manifest"
)

// GuestPassword is the plain-text password assigned to the guest user.
// The VMs are disposable and reachable only from the host, so a fixed
// password keeps console logins simple.
const GuestPassword = "vmt"

// userData is the cloud-config document. Field order here is the order
// cloud-init sees; yaml.v3 preserves struct order on marshal.
type userData struct {
	BootCmd       []string    `yaml:"bootcmd"`
	Users         []userEntry `yaml:"users"`
	Chpasswd      chpasswd    `yaml:"chpasswd"`
	SSHPwAuth     bool        `yaml:"ssh_pwauth"`
	PackageUpdate bool        `yaml:"package_update"`
	Packages      []string    `yaml:"packages"`
	WriteFiles    []writeFile `yaml:"write_files"`
	RunCmd        []string    `yaml:"runcmd"`
}

type userEntry struct {
	Name              string   `yaml:"name"`
	SSHAuthorizedKeys []string `yaml:"ssh_authorized_keys"`
	Sudo              string   `yaml:"sudo"`
	Groups            []string `yaml:"groups"`
	Shell             string   `yaml:"shell"`
	LockPasswd        bool     `yaml:"lock_passwd"`
	PlainTextPasswd   string   `yaml:"plain_text_passwd"`
}

type chpasswd struct {
	Expire bool `yaml:"expire"`
}

// writeFile is one write_files entry. Deferred entries are written in
// the final stage, after the user account exists, so owner resolves.
type writeFile struct {
	Path    string `yaml:"path"`
	Owner   string `yaml:"owner,omitempty"`
	Defer   bool   `yaml:"defer,omitempty"`
	Append  bool   `yaml:"append,omitempty"`
	Content string `yaml:"content"`
}

// metaData is the NoCloud meta-data document.
type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

// isArchImage reports whether the manifest targets an Arch Linux image.
// Arch cloud images ship empty pacman keyrings, which breaks package
// installation unless the keyring is initialized first.
func isArchImage(m *manifest.VMManifest) bool {
	return strings.Contains(strings.ToLower(m.VM.Image), "arch")
}

// compositorService renders the systemd user unit that runs the
// compositor headless. WLR_BACKENDS is forced to headless so grim can
// capture frames without a physical output.
func compositorService(m *manifest.VMManifest) string {
	env := make(map[string]string, len(m.Provision.Env)+1)
	for k, v := range m.Provision.Env {
		env[k] = v
	}
	env["WLR_BACKENDS"] = "headless"

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("[Unit]\n")
	b.WriteString("Description=Test Compositor\n")
	b.WriteString("After=pipewire.service\n\n")
	b.WriteString("[Service]\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "Environment=%q\n", k+"="+env[k])
	}
	fmt.Fprintf(&b, "ExecStart=%s\n", m.Provision.CompositorCmd)
	b.WriteString("Restart=on-failure\n\n")
	b.WriteString("[Install]\n")
	b.WriteString("WantedBy=default.target\n")
	return b.String()
}

// GenerateUserData renders the cloud-config user-data for a manifest.
//
// Returns the complete file content including the "#cloud-config"
// header required by cloud-init.
func GenerateUserData(m *manifest.VMManifest, sshPubKey string) (string, error) {
	if m == nil {
		return "", fmt.Errorf("manifest cannot be nil")
	}
	user := m.SSH.User

	autologin := "[Service]\n" +
		"ExecStart=\n" +
		fmt.Sprintf("ExecStart=-/sbin/agetty --autologin %s --noclear %%I $TERM\n", user)

	// tty1 logins exec the compositor directly, driving the SPICE
	// display through the DRM backend.
	bashProfile := fmt.Sprintf(
		"[ -z \"$DISPLAY\" ] && [ \"$(tty)\" = \"/dev/tty1\" ] && exec %s\n",
		m.Provision.CompositorCmd,
	)

	bootcmd := []string{
		"systemctl mask --now systemd-time-wait-sync.service",
	}
	if isArchImage(m) {
		bootcmd = append(bootcmd, "pacman-key --init && pacman-key --populate archlinux")
	}

	doc := userData{
		BootCmd: bootcmd,
		Users: []userEntry{
			{
				Name:              user,
				SSHAuthorizedKeys: []string{sshPubKey},
				Sudo:              "ALL=(ALL) NOPASSWD:ALL",
				Groups:            []string{"video", "audio"},
				Shell:             "/bin/bash",
				LockPasswd:        false,
				PlainTextPasswd:   GuestPassword,
			},
		},
		Chpasswd:      chpasswd{Expire: false},
		SSHPwAuth:     true,
		PackageUpdate: true,
		Packages:      m.Provision.Packages,
		WriteFiles: []writeFile{
			{
				Path:    fmt.Sprintf("/home/%s/.config/systemd/user/test-compositor.service", user),
				Owner:   user + ":" + user,
				Defer:   true,
				Content: compositorService(m),
			},
			{
				Path:    "/etc/systemd/system/getty@tty1.service.d/autologin.conf",
				Content: autologin,
			},
			{
				Path:    fmt.Sprintf("/home/%s/.bash_profile", user),
				Owner:   user + ":" + user,
				Defer:   true,
				Content: bashProfile,
			},
			{
				Path:    fmt.Sprintf("/home/%s/.bashrc", user),
				Owner:   user + ":" + user,
				Defer:   true,
				Append:  true,
				Content: "export PATH=\"$HOME/.local/bin:$PATH\"\n",
			},
		},
		RunCmd: []string{
			"systemctl enable --now sshd || systemctl enable --now ssh || true",
			"loginctl enable-linger " + user,
			// machinectl sets up the full user session environment
			// (XDG_RUNTIME_DIR, DBUS) that a plain su would not.
			fmt.Sprintf("machinectl shell %s@ /bin/bash -c "+
				"'systemctl --user start pipewire wireplumber test-compositor' || true", user),
		},
	}

	yamlBytes, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("marshal user-data: %w", err)
	}
	return "#cloud-config\n" + string(yamlBytes), nil
}

// GenerateMetaData renders the NoCloud meta-data for a VM name. The
// instance-id carries the domain name, so recreating a VM under the
// same name re-runs cloud-init on first boot.
func GenerateMetaData(vmName string) (string, error) {
	doc := metaData{
		InstanceID:    "vmt-" + vmName,
		LocalHostname: vmName,
	}

	yamlBytes, err := yaml.Marshal(&doc)
	if err != nil {
		return "", fmt.Errorf("marshal meta-data: %w", err)
	}
	return string(yamlBytes), nil
}
