/*
Package config loads and resolves the coordinator configuration.

Configuration is YAML on top of documented defaults. Interval keys are
expressed in seconds, matching the operator-facing names (time_to_sleep,
time_between_failures, restart_retry_interval, ...); duration accessors
convert them so callers never multiply seconds themselves.

# Per-zone gates

vm_ha_enabled and vm_ha_alerts_enabled are per-zone booleans with a
global default:

	ha:
	  vm_ha_enabled:
	    default: true
	    zones:
	      3: false

Gates wraps both behind a mutex so operators can flip a zone at runtime;
scheduling APIs and workers read through it on every decision.
*/
package config
