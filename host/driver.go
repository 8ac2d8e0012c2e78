package host

// Driver is a class driver offered every configured device.
type Driver interface {
	// Name identifies the driver in logs.
	Name() string

	// ShouldActive reports whether the driver claims dev.
	ShouldActive(dev *Device) bool

	// Activate binds the driver to dev. An error leaves the device
	// unbound and the next driver is tried.
	Activate(dev *Device) error

	// Deactivate is called when dev is detached or the host stops.
	Deactivate(dev *Device)
}

// ClassMatch selects interfaces by class triple. A zero SubClass or
// Protocol matches any value.
type ClassMatch struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// Matches reports whether dev exposes an interface matching m.
func (m ClassMatch) Matches(dev *Device) bool {
	for _, iface := range dev.Interfaces() {
		d := iface.Descriptor
		if d.InterfaceClass != m.Class {
			continue
		}
		if m.SubClass != 0 && d.InterfaceSubClass != m.SubClass {
			continue
		}
		if m.Protocol != 0 && d.InterfaceProtocol != m.Protocol {
			continue
		}
		return true
	}
	return false
}

// ClassDriver is a Driver built from a class match and callbacks.
type ClassDriver struct {
	DriverName string
	Match      ClassMatch

	OnActivate   func(*Device) error
	OnDeactivate func(*Device)
}

// Name implements Driver.
func (c *ClassDriver) Name() string { return c.DriverName }

// ShouldActive implements Driver.
func (c *ClassDriver) ShouldActive(dev *Device) bool { return c.Match.Matches(dev) }

// Activate implements Driver.
func (c *ClassDriver) Activate(dev *Device) error {
	if c.OnActivate == nil {
		return nil
	}
	return c.OnActivate(dev)
}

// Deactivate implements Driver.
func (c *ClassDriver) Deactivate(dev *Device) {
	if c.OnDeactivate != nil {
		c.OnDeactivate(dev)
	}
}
