package flow

// Backpressure bounds applied to every built-in connection.
const (
	defaultBackPressureObjects = 10000
	defaultBackPressureSize    = "1 GB"
)

// CDCTopology returns the canonical change-data-capture topology: a process
// group polling a PostgreSQL logical replication slot and routing the change
// events by operation type.
func CDCTopology() *Topology {
	return &Topology{
		Name:    "cdc-replication",
		Pattern: "cdc",
		Group: GroupSpec{
			Name:     "cdc-replication",
			Comments: "Log-based change data capture from a PostgreSQL replication slot",
		},
		Parameters: ParameterContextSpec{
			Name:        "cdc-parameters",
			Description: "Connection and slot settings for the CDC flow",
			Parameters: []ParameterSpec{
				{Name: "db.url", Value: "jdbc:postgresql://localhost:5432/app"},
				{Name: "db.driver", Value: "org.postgresql.Driver"},
				{Name: "db.user", Value: "replicator"},
				{Name: "db.password", Value: "", Sensitive: true},
				{Name: "replication.slot", Value: "pipewright_cdc"},
			},
		},
		Services: []ControllerServiceSpec{
			{
				Name: "cdc-db-pool",
				Type: "org.apache.nifi.dbcp.DBCPConnectionPool",
				Properties: map[string]string{
					"Database Connection URL":    "#{db.url}",
					"Database Driver Class Name": "#{db.driver}",
					"Database User":              "#{db.user}",
					"Password":                   "#{db.password}",
					"Max Total Connections":      "4",
					"Max Wait Time":              "500 millis",
				},
			},
		},
		Processors: []ProcessorSpec{
			{
				Name:               "poll-replication-slot",
				Type:               "org.apache.nifi.processors.standard.ExecuteSQL",
				SchedulingPeriod:   "10 sec",
				SchedulingStrategy: "TIMER_DRIVEN",
				ExecutionNode:      "PRIMARY",
				AutoTerminate:      []string{"failure"},
				Properties: map[string]string{
					"Database Connection Pooling Service": "@cdc-db-pool",
					"SQL select query": "SELECT lsn, xid, data FROM pg_logical_slot_get_changes('#{replication.slot}', NULL, NULL)",
				},
			},
			{
				Name:               "route-change-events",
				Type:               "org.apache.nifi.processors.standard.RouteOnAttribute",
				SchedulingStrategy: "TIMER_DRIVEN",
				AutoTerminate:      []string{"unmatched"},
				Properties: map[string]string{
					"Routing Strategy": "Route to Property name",
					"insert":           "${cdc.operation:equals('insert')}",
					"update":           "${cdc.operation:equals('update')}",
					"delete":           "${cdc.operation:equals('delete')}",
				},
			},
		},
		Connections: []ConnectionSpec{
			{
				Source:              "poll-replication-slot",
				Destination:         "route-change-events",
				Relationships:       []string{"success"},
				BackPressureObjects: defaultBackPressureObjects,
				BackPressureSize:    defaultBackPressureSize,
			},
		},
	}
}

// OutboxTopology returns the canonical transactional-outbox topology: a
// process group incrementally draining an outbox table and handing the rows
// to a publishing step.
func OutboxTopology() *Topology {
	return &Topology{
		Name:    "outbox-relay",
		Pattern: "outbox",
		Group: GroupSpec{
			Name:     "outbox-relay",
			Comments: "Transactional outbox relay draining the outbox table incrementally",
		},
		Parameters: ParameterContextSpec{
			Name:        "outbox-parameters",
			Description: "Connection and table settings for the outbox flow",
			Parameters: []ParameterSpec{
				{Name: "db.url", Value: "jdbc:postgresql://localhost:5432/app"},
				{Name: "db.driver", Value: "org.postgresql.Driver"},
				{Name: "db.user", Value: "outbox"},
				{Name: "db.password", Value: "", Sensitive: true},
				{Name: "outbox.table", Value: "outbox"},
			},
		},
		Services: []ControllerServiceSpec{
			{
				Name: "outbox-db-pool",
				Type: "org.apache.nifi.dbcp.DBCPConnectionPool",
				Properties: map[string]string{
					"Database Connection URL":    "#{db.url}",
					"Database Driver Class Name": "#{db.driver}",
					"Database User":              "#{db.user}",
					"Password":                   "#{db.password}",
					"Max Total Connections":      "4",
					"Max Wait Time":              "500 millis",
				},
			},
		},
		Processors: []ProcessorSpec{
			{
				Name:               "poll-outbox-table",
				Type:               "org.apache.nifi.processors.standard.QueryDatabaseTable",
				SchedulingPeriod:   "5 sec",
				SchedulingStrategy: "TIMER_DRIVEN",
				ExecutionNode:      "PRIMARY",
				Properties: map[string]string{
					"Database Connection Pooling Service": "@outbox-db-pool",
					"Table Name":                          "#{outbox.table}",
					"Maximum-value Columns":               "id",
					"Max Rows Per Flow File":              "500",
				},
			},
			{
				Name:               "publish-outbox-events",
				Type:               "org.apache.nifi.processors.standard.LogAttribute",
				SchedulingStrategy: "TIMER_DRIVEN",
				AutoTerminate:      []string{"success"},
				Properties: map[string]string{
					"Log Level":   "info",
					"Log Payload": "true",
				},
			},
		},
		Connections: []ConnectionSpec{
			{
				Source:              "poll-outbox-table",
				Destination:         "publish-outbox-events",
				Relationships:       []string{"success"},
				BackPressureObjects: defaultBackPressureObjects,
				BackPressureSize:    defaultBackPressureSize,
			},
		},
	}
}

// BuiltinTopology returns the built-in topology for a pattern name.
func BuiltinTopology(pattern string) (*Topology, bool) {
	switch pattern {
	case "cdc":
		return CDCTopology(), true
	case "outbox":
		return OutboxTopology(), true
	}
	return nil, false
}
