// Package cmd provides shared wiring for the identiflow binaries.
package cmd

import (
	"log/slog"

	"github.com/dukex/identiflow/pkg/connector"
)

// NewConnector builds the automation backend client. Simulation is an
// explicit flag, never inferred from missing credentials.
func NewConnector(simulationMode bool, backendURL, backendToken string, logger *slog.Logger) connector.Connector {
	if simulationMode {
		return connector.NewSimulator(connector.SimulatorConfig{}, logger)
	}

	if backendURL == "" {
		panic("backend URL is required when simulation mode is disabled")
	}

	return connector.NewHTTPConnector(backendURL, backendToken, logger)
}
