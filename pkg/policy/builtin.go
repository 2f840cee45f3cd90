package policy

// BuiltinPolicies returns the rules every evaluation applies. They guard
// topology mistakes that the engine would accept but that produce broken or
// unsafe flows.
func BuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "connection-endpoints",
			Description: "Connections must reference processors declared in the same topology",
			Severity:    SeverityError,
			Enabled:     true,
			Rego:        connectionEndpointsRego,
		},
		{
			Name:        "polling-schedule",
			Description: "Database polling processors must declare an explicit scheduling period",
			Severity:    SeverityError,
			Enabled:     true,
			Rego:        pollingScheduleRego,
		},
		{
			Name:        "sensitive-parameters",
			Description: "Parameters with credential-like names must be marked sensitive",
			Severity:    SeverityError,
			Enabled:     true,
			Rego:        sensitiveParametersRego,
		},
		{
			Name:        "connection-backpressure",
			Description: "Connections should bound their queues with backpressure thresholds",
			Severity:    SeverityWarning,
			Enabled:     true,
			Rego:        backpressureRego,
		},
	}
}

const connectionEndpointsRego = `
package pipewright.policies.connection_endpoints

import rego.v1

declared_processors contains name if {
	some proc in input.topology.processors
	name := proc.name
}

deny contains violation if {
	some conn in input.topology.connections
	not conn.source in declared_processors
	violation := {
		"message": sprintf("connection references undeclared source processor %q", [conn.source]),
		"severity": "error",
		"resource": conn.source,
	}
}

deny contains violation if {
	some conn in input.topology.connections
	not conn.destination in declared_processors
	violation := {
		"message": sprintf("connection references undeclared destination processor %q", [conn.destination]),
		"severity": "error",
		"resource": conn.destination,
	}
}
`

const pollingScheduleRego = `
package pipewright.policies.polling_schedule

import rego.v1

polling_types := {
	"org.apache.nifi.processors.standard.QueryDatabaseTable",
	"org.apache.nifi.processors.standard.ExecuteSQL",
}

deny contains violation if {
	some proc in input.topology.processors
	proc.type in polling_types
	not proc.scheduling_period
	violation := {
		"message": sprintf("polling processor %q must declare a scheduling period", [proc.name]),
		"severity": "error",
		"resource": proc.name,
	}
}
`

const sensitiveParametersRego = `
package pipewright.policies.sensitive_parameters

import rego.v1

deny contains violation if {
	some param in input.topology.parameters.parameters
	not param.sensitive
	regex.match("(?i)(password|secret|token|credential)", param.name)
	violation := {
		"message": sprintf("parameter %q looks like a credential but is not marked sensitive", [param.name]),
		"severity": "error",
		"resource": param.name,
	}
}
`

const backpressureRego = `
package pipewright.policies.connection_backpressure

import rego.v1

deny contains violation if {
	some conn in input.topology.connections
	not conn.back_pressure_objects
	violation := {
		"message": sprintf("connection %q -> %q has no backpressure object threshold", [conn.source, conn.destination]),
		"severity": "warning",
		"resource": conn.source,
	}
}
`
