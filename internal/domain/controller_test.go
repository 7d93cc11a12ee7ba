package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/digitalocean/go-libvirt"
)

func TestName(t *testing.T) {
	if got := Name("desktop"); got != "vmt-desktop" {
		t.Fatalf("Name() = %q, want %q", got, "vmt-desktop")
	}
}

func TestDefine_UsesPrefixedName(t *testing.T) {
	hv := newMockHypervisor("vmt-x")

	err := testController(hv).Define(DefineSpec{
		Name:     "x",
		MemoryMB: 2048,
		CPUs:     2,
		DiskPath: "/ws/x/disk.qcow2",
		SeedPath: "/ws/x/seed.iso",
	})
	if err != nil {
		t.Fatalf("Define failed: %v", err)
	}

	if len(hv.defineCalls) != 1 {
		t.Fatalf("expected 1 define call, got %d", len(hv.defineCalls))
	}
	if !strings.Contains(hv.defineCalls[0], "<name>vmt-x</name>") {
		t.Errorf("domain XML missing prefixed name:\n%s", hv.defineCalls[0])
	}
}

func TestDestroyIfRunning(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(*mockHypervisor)
		wantDestroys int
		wantWarnings int
	}{
		{
			name:         "running domain is destroyed",
			setup:        func(m *mockHypervisor) {},
			wantDestroys: 1,
		},
		{
			name: "stopped domain is left alone",
			setup: func(m *mockHypervisor) {
				m.domainGetStateFunc = func(libvirt.Domain, uint32) (int32, int32, error) {
					return int32(libvirt.DomainShutoff), 0, nil
				}
			},
		},
		{
			name: "absent domain is success",
			setup: func(m *mockHypervisor) {
				m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
					return libvirt.Domain{}, notFound(name)
				}
			},
		},
		{
			name: "lookup failure becomes a warning",
			setup: func(m *mockHypervisor) {
				m.domainLookupByNameFunc = func(string) (libvirt.Domain, error) {
					return libvirt.Domain{}, errors.New("connection reset")
				}
			},
			wantWarnings: 1,
		},
		{
			name: "destroy failure becomes a warning",
			setup: func(m *mockHypervisor) {
				m.domainDestroyFunc = func(libvirt.Domain) error {
					return errors.New("operation failed")
				}
			},
			wantDestroys: 1,
			wantWarnings: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := newMockHypervisor("vmt-x")
			tt.setup(hv)

			warnings := testController(hv).DestroyIfRunning("x")
			if len(warnings) != tt.wantWarnings {
				t.Errorf("warnings = %v, want %d", warnings, tt.wantWarnings)
			}
			if len(hv.destroyCalls) != tt.wantDestroys {
				t.Errorf("destroy calls = %d, want %d", len(hv.destroyCalls), tt.wantDestroys)
			}
		})
	}
}

func TestUndefine_AbsentIsSuccess(t *testing.T) {
	hv := newMockHypervisor("vmt-other")

	warnings := testController(hv).Undefine("x")
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if len(hv.undefineCalls) != 0 {
		t.Fatal("undefine must not be called for an absent domain")
	}
}

func TestUndefine_FailureBecomesWarning(t *testing.T) {
	hv := newMockHypervisor("vmt-x")
	hv.domainUndefineFunc = func(libvirt.Domain) error {
		return errors.New("domain has snapshots")
	}

	warnings := testController(hv).Undefine("x")
	if len(warnings) != 1 || !strings.Contains(warnings[0], "domain has snapshots") {
		t.Fatalf("warnings = %v, want one mentioning the cause", warnings)
	}
}

func TestUndefine_LookupFailureBecomesWarning(t *testing.T) {
	hv := newMockHypervisor("vmt-x")
	hv.domainLookupByNameFunc = func(string) (libvirt.Domain, error) {
		return libvirt.Domain{}, errors.New("connection reset")
	}

	warnings := testController(hv).Undefine("x")
	if len(warnings) != 1 || !strings.Contains(warnings[0], "connection reset") {
		t.Fatalf("warnings = %v, want one mentioning the cause", warnings)
	}
	if len(hv.undefineCalls) != 0 {
		t.Fatal("undefine must not be attempted when lookup fails")
	}
}

func TestState(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockHypervisor)
		want  State
	}{
		{
			name:  "running",
			setup: func(m *mockHypervisor) {},
			want:  StateRunning,
		},
		{
			name: "stopped",
			setup: func(m *mockHypervisor) {
				m.domainGetStateFunc = func(libvirt.Domain, uint32) (int32, int32, error) {
					return int32(libvirt.DomainShutoff), 0, nil
				}
			},
			want: StateStopped,
		},
		{
			name: "absent",
			setup: func(m *mockHypervisor) {
				m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
					return libvirt.Domain{}, notFound(name)
				}
			},
			want: StateAbsent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := newMockHypervisor("vmt-x")
			tt.setup(hv)

			got, err := testController(hv).State("x")
			if err != nil {
				t.Fatalf("State failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("State = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLeases(t *testing.T) {
	hv := newMockHypervisor("vmt-x")
	hv.domainInterfaceAddressesFunc = func(libvirt.Domain, uint32, uint32) ([]libvirt.DomainInterface, error) {
		return []libvirt.DomainInterface{
			{
				Name: "vnet0",
				Addrs: []libvirt.DomainIPAddr{
					{Type: int32(libvirt.IPAddrTypeIpv6), Addr: "fe80::1", Prefix: 64},
					{Type: int32(libvirt.IPAddrTypeIpv4), Addr: "192.168.122.41", Prefix: 24},
				},
			},
		}, nil
	}

	leases, err := testController(hv).Leases("x")
	if err != nil {
		t.Fatalf("Leases failed: %v", err)
	}
	if len(leases) != 2 {
		t.Fatalf("got %d leases, want 2", len(leases))
	}
	if leases[0].IPv4 {
		t.Error("first lease should be IPv6")
	}
	if !leases[1].IPv4 || leases[1].Address != "192.168.122.41" {
		t.Errorf("second lease = %+v, want IPv4 192.168.122.41", leases[1])
	}
}

func TestSnapshot_PassesNameThrough(t *testing.T) {
	hv := newMockHypervisor("vmt-x")

	if err := testController(hv).Snapshot("x", "clean"); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(hv.snapshotCalls) != 1 {
		t.Fatalf("expected 1 snapshot call, got %d", len(hv.snapshotCalls))
	}
	if !strings.Contains(hv.snapshotCalls[0], "<name>clean</name>") {
		t.Errorf("snapshot XML missing name:\n%s", hv.snapshotCalls[0])
	}
}

func TestSnapshot_HypervisorErrorPropagates(t *testing.T) {
	hv := newMockHypervisor("vmt-x")
	hv.domainSnapshotCreateXMLFunc = func(libvirt.Domain, string, uint32) (libvirt.DomainSnapshot, error) {
		return libvirt.DomainSnapshot{}, libvirt.Error{Code: 9, Message: "snapshot already exists"}
	}

	err := testController(hv).Snapshot("x", "clean")
	if err == nil || !strings.Contains(err.Error(), "snapshot already exists") {
		t.Fatalf("hypervisor error not propagated: %v", err)
	}
}

func TestRevert(t *testing.T) {
	hv := newMockHypervisor("vmt-x")

	if err := testController(hv).Revert("x", "clean"); err != nil {
		t.Fatalf("Revert failed: %v", err)
	}
	if len(hv.revertCalls) != 1 || hv.revertCalls[0].Name != "clean" {
		t.Fatalf("revert calls = %+v, want one for snapshot clean", hv.revertCalls)
	}
}

func TestDisplayPort(t *testing.T) {
	tests := []struct {
		name     string
		xml      string
		wantPort int
		wantOK   bool
	}{
		{
			name:     "assigned port",
			xml:      `<domain><devices><graphics type='spice' port='5901' autoport='yes' listen='127.0.0.1'/></devices></domain>`,
			wantPort: 5901,
			wantOK:   true,
		},
		{
			name:   "unassigned port",
			xml:    `<domain><devices><graphics type='spice' port='-1' autoport='yes'/></devices></domain>`,
			wantOK: false,
		},
		{
			name:   "no graphics device",
			xml:    `<domain><devices/></domain>`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hv := newMockHypervisor("vmt-x")
			hv.domainGetXMLDescFunc = func(libvirt.Domain, libvirt.DomainXMLFlags) (string, error) {
				return tt.xml, nil
			}

			port, ok, err := testController(hv).DisplayPort("x")
			if err != nil {
				t.Fatalf("DisplayPort failed: %v", err)
			}
			if ok != tt.wantOK || port != tt.wantPort {
				t.Errorf("DisplayPort = (%d, %v), want (%d, %v)", port, ok, tt.wantPort, tt.wantOK)
			}
		})
	}
}

func TestDisplayPort_AbsentDomain(t *testing.T) {
	hv := newMockHypervisor("vmt-other")

	port, ok, err := testController(hv).DisplayPort("x")
	if err != nil || ok || port != 0 {
		t.Fatalf("DisplayPort for absent domain = (%d, %v, %v), want (0, false, nil)", port, ok, err)
	}
}
