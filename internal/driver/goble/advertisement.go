package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/uuid"
)

// txPowerUnavailable is the value go-ble reports when the advertisement has no TX power field.
const txPowerUnavailable = 127

// toScanResult copies a go-ble advertisement into the manager's representation.
// Nothing in the result aliases go-ble buffers.
func toScanResult(adv ble.Advertisement) central.ScanResult {
	res := central.ScanResult{
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
	}
	if addr := adv.Addr(); addr != nil {
		res.Address = addr.String()
	}

	if tx := adv.TxPowerLevel(); tx != txPowerUnavailable {
		res.TxPower = &tx
	}

	for _, svc := range adv.Services() {
		res.Services = append(res.Services, uuid.Normalize(svc.String()))
	}

	if md := adv.ManufacturerData(); len(md) > 0 {
		res.ManufacturerData = append([]byte(nil), md...)
	}

	if sd := adv.ServiceData(); len(sd) > 0 {
		res.ServiceData = make(map[string][]byte, len(sd))
		for _, entry := range sd {
			res.ServiceData[uuid.Normalize(entry.UUID.String())] = append([]byte(nil), entry.Data...)
		}
	}
	return res
}

// matchesFilter reports whether the advertisement carries one of the wanted services.
// An empty filter matches everything.
func matchesFilter(res central.ScanResult, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, want := range filter {
		for _, have := range res.Services {
			if have == want {
				return true
			}
		}
		if _, ok := res.ServiceData[want]; ok {
			return true
		}
	}
	return false
}
