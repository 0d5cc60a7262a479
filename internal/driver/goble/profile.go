package goble

import (
	"sort"

	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/uuid"
)

func findCharacteristic(profile *ble.Profile, service, char string) *ble.Characteristic {
	if profile == nil {
		return nil
	}
	for _, svc := range profile.Services {
		if uuid.Normalize(svc.UUID.String()) != service {
			continue
		}
		for _, c := range svc.Characteristics {
			if uuid.Normalize(c.UUID.String()) == char {
				return c
			}
		}
	}
	return nil
}

// serviceUUIDs lists the normalized service UUIDs of a profile in sorted order.
func serviceUUIDs(profile *ble.Profile) []string {
	if profile == nil {
		return nil
	}
	result := make([]string, 0, len(profile.Services))
	for _, svc := range profile.Services {
		result = append(result, uuid.Normalize(svc.UUID.String()))
	}
	sort.Strings(result)
	return result
}

func canNotify(c *ble.Characteristic) bool {
	return c.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

// useIndications picks indications only when the characteristic cannot notify.
func useIndications(c *ble.Characteristic) bool {
	return c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0
}
