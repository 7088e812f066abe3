package profile

import (
	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/blebattery/internal/bledb"
)

// Attribute kinds in the attribute table.
const (
	KindService        = "service"
	KindCharacteristic = "characteristic"
	KindDescriptor     = "descriptor"
)

// Attribute is one row of the published attribute table.
type Attribute struct {
	Kind        string   `json:"kind"`
	UUID        string   `json:"uuid"`
	Name        string   `json:"name,omitempty"`
	Properties  []string `json:"properties,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Attributes returns the attribute table keyed by normalized UUID, in the order a
// central discovers it: service, characteristic, descriptor.
func (d *ServiceDescriptor) Attributes() *orderedmap.OrderedMap[string, Attribute] {
	table := orderedmap.New[string, Attribute]()

	svc := bledb.NormalizeUUID(d.ServiceUUID.String())
	table.Set(svc, Attribute{
		Kind: KindService,
		UUID: svc,
		Name: bledb.LookupService(svc),
	})

	chr := bledb.NormalizeUUID(d.CharacteristicUUID.String())
	table.Set(chr, Attribute{
		Kind:        KindCharacteristic,
		UUID:        chr,
		Name:        bledb.LookupCharacteristic(chr),
		Properties:  propertyNames(d.CharacteristicProperties),
		Permissions: d.CharacteristicPermissions.Names(),
	})

	desc := bledb.NormalizeUUID(d.DescriptorUUID.String())
	table.Set(desc, Attribute{
		Kind:        KindDescriptor,
		UUID:        desc,
		Name:        bledb.LookupDescriptor(desc),
		Permissions: d.DescriptorPermissions.Names(),
	})

	return table
}

func propertyNames(p ble.Property) []string {
	var names []string
	for _, f := range []struct {
		bit  ble.Property
		name string
	}{
		{ble.CharBroadcast, "broadcast"},
		{ble.CharRead, "read"},
		{ble.CharWriteNR, "write-without-response"},
		{ble.CharWrite, "write"},
		{ble.CharNotify, "notify"},
		{ble.CharIndicate, "indicate"},
		{ble.CharSignedWrite, "authenticated-signed-writes"},
		{ble.CharExtended, "extended-properties"},
	} {
		if p&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}
