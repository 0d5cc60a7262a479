package main

import (
	"strings"

	"github.com/srg/blecentral/internal/central"
	"github.com/srg/blecentral/internal/testutils"
)

func (suite *CommandTestSuite) heartRateDevice(address string) *fakeDevice {
	return suite.Driver.add(&fakeDevice{
		result: central.ScanResult{
			Address:     address,
			RSSI:        -70,
			Connectable: false,
			Services:    []string{"180d"},
		},
		services: []string{"180d"},
	})
}

func (suite *CommandTestSuite) TestScan_Table() {
	// GOAL: Verify the table lists a discovered device with its attributes
	//
	// TEST SCENARIO: One advertising device → scan → table row with name, address, RSSI, services

	suite.batteryDevice(TestDeviceAddress1)

	out, err := suite.ExecuteCommand("scan", "--duration", "100ms")
	suite.Require().NoError(err, "scan MUST succeed")

	expected := "NAME  ADDRESS  RSSI  CONNECTABLE  SERVICES\n" +
		strings.Repeat("-", 80) + "\n" +
		"Thermo  00:00:00:00:00:01  -52 dBm  yes  180f\n"
	testutils.NewTextAsserter(suite.T()).Assert(out, expected)
}

func (suite *CommandTestSuite) TestScan_Empty() {
	// GOAL: Verify an empty scan says so instead of printing an empty table

	out, err := suite.ExecuteCommand("scan", "--duration", "50ms")
	suite.Require().NoError(err, "scan MUST succeed")
	suite.Equal("No devices discovered\n", out)
}

func (suite *CommandTestSuite) TestScan_JSON() {
	// GOAL: Verify JSON output keeps discovery order and reports unnamed devices with an empty name
	//
	// TEST SCENARIO: Two devices → scan --format json → both entries, in order

	suite.batteryDevice(TestDeviceAddress1)
	suite.heartRateDevice(TestDeviceAddress2)

	out, err := suite.ExecuteCommand("scan", "--duration", "100ms", "--format", "json")
	suite.Require().NoError(err, "scan MUST succeed")

	testutils.NewJSONAsserter(suite.T()).Assert(out, `[
		{"name": "Thermo", "address": "00:00:00:00:00:01", "rssi": -52, "connectable": true,  "services": ["180f"]},
		{"name": "",       "address": "00:00:00:00:00:02", "rssi": -70, "connectable": false, "services": ["180d"]}
	]`)
}

func (suite *CommandTestSuite) TestScan_ServiceFilter() {
	// GOAL: Verify --service limits the report to devices advertising that service

	suite.batteryDevice(TestDeviceAddress1)
	suite.heartRateDevice(TestDeviceAddress2)

	out, err := suite.ExecuteCommand("scan", "--duration", "100ms", "--format", "json", "--service", "0000180d-0000-1000-8000-00805f9b34fb")
	suite.Require().NoError(err, "scan MUST succeed")

	testutils.NewJSONAsserter(suite.T()).Assert(out, `[
		{"address": "00:00:00:00:00:02", "services": ["180d"]}
	]`)
}

func (suite *CommandTestSuite) TestScan_InvalidArguments() {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "unknown format",
			args:    []string{"scan", "--format", "xml"},
			wantErr: "invalid format 'xml': must be one of [table json]",
		},
		{
			name:    "malformed service UUID",
			args:    []string{"scan", "--duration", "50ms", "--service", "not-a-uuid"},
			wantErr: "invalid scan request",
		},
		{
			name:    "unknown log level",
			args:    []string{"scan", "--log-level", "loud"},
			wantErr: "invalid log level: loud",
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			resetFlags(rootCmd)
			_, err := suite.ExecuteCommand(tt.args...)
			suite.Require().Error(err, "invalid arguments MUST be rejected")
			suite.Contains(err.Error(), tt.wantErr)
		})
	}
}

func (suite *CommandTestSuite) TestScan_Failure() {
	// GOAL: Verify a scan the radio aborts ends the command with ErrScanFailed

	suite.batteryDevice(TestDeviceAddress1)
	suite.Driver.setScanFailure(central.ScanErrorInternal)

	out, err := suite.ExecuteCommand("scan", "--duration", "1s")
	suite.Require().ErrorIs(err, ErrScanFailed)
	suite.Contains(err.Error(), "internal_error")
	suite.Contains(out, "Scan failed: internal_error")
}
