// Package domain wraps the hypervisor connection and manages the
// lifecycle of vmt-owned libvirt domains.
package domain

import (
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/sirupsen/logrus"
	"libvirt.org/go/libvirtxml"
)

// NamePrefix is prepended to every manifest name to form the libvirt
// domain name, keeping vmt-owned domains out of everyone else's way.
const NamePrefix = "vmt-"

// Name returns the libvirt domain name for a manifest name.
func Name(vmName string) string {
	return NamePrefix + vmName
}

// State is the observed lifecycle state of a domain.
type State int

const (
	StateAbsent State = iota
	StateStopped
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "absent"
	}
}

// Lease is one DHCP-assigned address on a domain interface.
type Lease struct {
	Interface string
	Address   string
	IPv4      bool
}

// hypervisor is the subset of *libvirt.Libvirt the controller needs.
// Tests satisfy it with mocks; production uses the real client.
type hypervisor interface {
	DomainLookupByName(name string) (libvirt.Domain, error)
	DomainDefineXML(xml string) (libvirt.Domain, error)
	DomainCreate(dom libvirt.Domain) error
	DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error)
	DomainDestroy(dom libvirt.Domain) error
	DomainUndefine(dom libvirt.Domain) error
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
	DomainSnapshotCreateXML(dom libvirt.Domain, xml string, flags uint32) (libvirt.DomainSnapshot, error)
	DomainSnapshotLookupByName(dom libvirt.Domain, name string, flags uint32) (libvirt.DomainSnapshot, error)
	DomainRevertToSnapshot(snap libvirt.DomainSnapshot, flags uint32) error
	DomainGetXMLDesc(dom libvirt.Domain, flags libvirt.DomainXMLFlags) (string, error)
}

// Controller manages vmt domains through a hypervisor connection.
type Controller struct {
	hv  hypervisor
	log *logrus.Logger
}

// NewController creates a controller on an established connection.
func NewController(client *Client, log *logrus.Logger) *Controller {
	return &Controller{hv: client.Libvirt(), log: log}
}

// Define registers a new domain built from spec. The domain is not
// started. Fails if a domain of the same name is already defined.
func (c *Controller) Define(spec DefineSpec) error {
	xml, err := BuildDomainXML(spec)
	if err != nil {
		return err
	}
	if _, err := c.hv.DomainDefineXML(xml); err != nil {
		return fmt.Errorf("define domain %s: %w", Name(spec.Name), err)
	}
	return nil
}

// Start boots a defined domain.
func (c *Controller) Start(name string) error {
	dom, err := c.hv.DomainLookupByName(Name(name))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", Name(name), err)
	}
	if err := c.hv.DomainCreate(dom); err != nil {
		return fmt.Errorf("start domain %s: %w", Name(name), err)
	}
	c.log.WithField("domain", Name(name)).Info("domain started")
	return nil
}

// DestroyIfRunning force-stops the domain if it is running. A missing
// domain is success; hypervisor failures are returned as warnings, not
// errors, since the caller re-verifies end state on its next Define.
func (c *Controller) DestroyIfRunning(name string) []string {
	domName := Name(name)
	dom, err := c.hv.DomainLookupByName(domName)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return nil
		}
		return []string{fmt.Sprintf("lookup %s: %v", domName, err)}
	}

	state, _, err := c.hv.DomainGetState(dom, 0)
	if err != nil {
		return []string{fmt.Sprintf("query state of %s: %v", domName, err)}
	}
	if state != int32(libvirt.DomainRunning) {
		return nil
	}

	if err := c.hv.DomainDestroy(dom); err != nil {
		return []string{fmt.Sprintf("destroy %s: %v", domName, err)}
	}
	c.log.WithField("domain", domName).Info("destroyed running domain")
	return nil
}

// Undefine removes the domain definition. A missing domain is success;
// hypervisor failures are returned as warnings.
func (c *Controller) Undefine(name string) []string {
	domName := Name(name)
	dom, err := c.hv.DomainLookupByName(domName)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return nil
		}
		return []string{fmt.Sprintf("lookup %s: %v", domName, err)}
	}

	if err := c.hv.DomainUndefine(dom); err != nil {
		return []string{fmt.Sprintf("undefine %s: %v", domName, err)}
	}
	c.log.WithField("domain", domName).Info("undefined domain")
	return nil
}

// State reports the observed state of the named domain.
func (c *Controller) State(name string) (State, error) {
	dom, err := c.hv.DomainLookupByName(Name(name))
	if err != nil {
		if libvirt.IsNotFound(err) {
			return StateAbsent, nil
		}
		return StateAbsent, fmt.Errorf("lookup domain %s: %w", Name(name), err)
	}

	state, _, err := c.hv.DomainGetState(dom, 0)
	if err != nil {
		return StateAbsent, fmt.Errorf("query state of %s: %w", Name(name), err)
	}
	if state == int32(libvirt.DomainRunning) {
		return StateRunning, nil
	}
	return StateStopped, nil
}

// Leases returns the DHCP leases currently held by the domain's
// interfaces.
func (c *Controller) Leases(name string) ([]Lease, error) {
	dom, err := c.hv.DomainLookupByName(Name(name))
	if err != nil {
		return nil, fmt.Errorf("lookup domain %s: %w", Name(name), err)
	}

	ifaces, err := c.hv.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		return nil, fmt.Errorf("query leases of %s: %w", Name(name), err)
	}

	var leases []Lease
	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			leases = append(leases, Lease{
				Interface: iface.Name,
				Address:   addr.Addr,
				IPv4:      addr.Type == int32(libvirt.IPAddrTypeIpv4),
			})
		}
	}
	return leases, nil
}

// Snapshot creates a named snapshot of the domain. Hypervisor errors
// (name collisions and the like) propagate unmodified.
func (c *Controller) Snapshot(name, snapName string) error {
	dom, err := c.hv.DomainLookupByName(Name(name))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", Name(name), err)
	}

	snapDoc := &libvirtxml.DomainSnapshot{Name: snapName}
	xml, err := snapDoc.Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot document: %w", err)
	}

	if _, err := c.hv.DomainSnapshotCreateXML(dom, xml, 0); err != nil {
		return fmt.Errorf("snapshot %s of %s: %w", snapName, Name(name), err)
	}
	c.log.WithFields(logrus.Fields{"domain": Name(name), "snapshot": snapName}).Info("created snapshot")
	return nil
}

// Revert reverts the domain to a named snapshot.
func (c *Controller) Revert(name, snapName string) error {
	dom, err := c.hv.DomainLookupByName(Name(name))
	if err != nil {
		return fmt.Errorf("lookup domain %s: %w", Name(name), err)
	}

	snap, err := c.hv.DomainSnapshotLookupByName(dom, snapName, 0)
	if err != nil {
		return fmt.Errorf("lookup snapshot %s of %s: %w", snapName, Name(name), err)
	}

	if err := c.hv.DomainRevertToSnapshot(snap, 0); err != nil {
		return fmt.Errorf("revert %s to %s: %w", Name(name), snapName, err)
	}
	c.log.WithFields(logrus.Fields{"domain": Name(name), "snapshot": snapName}).Info("reverted to snapshot")
	return nil
}

// DisplayPort reads back the SPICE port assigned to the running domain.
// The second return is false when no port has been assigned yet:
// auto-assigned ports are only known once the domain is started.
func (c *Controller) DisplayPort(name string) (int, bool, error) {
	dom, err := c.hv.DomainLookupByName(Name(name))
	if err != nil {
		if libvirt.IsNotFound(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lookup domain %s: %w", Name(name), err)
	}

	desc, err := c.hv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return 0, false, fmt.Errorf("read config of %s: %w", Name(name), err)
	}

	var doc libvirtxml.Domain
	if err := doc.Unmarshal(desc); err != nil {
		return 0, false, fmt.Errorf("parse config of %s: %w", Name(name), err)
	}
	if doc.Devices == nil {
		return 0, false, nil
	}
	for _, g := range doc.Devices.Graphics {
		if g.Spice != nil && g.Spice.Port > 0 {
			return g.Spice.Port, true, nil
		}
	}
	return 0, false, nil
}
