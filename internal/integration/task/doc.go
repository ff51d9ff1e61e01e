// Package task defines run configurations and the contracts between the
// providers that discover them and the host that offers and runs them.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                    Discovery                                     │
//	│  - Holds registered Providers                                   │
//	│  - Runs eligibility check + settings query per provider         │
//	│  - Forwards provider refresh signals                            │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                    Executor                                      │
//	│  - Runs a Task through process.Supervisor                       │
//	│  - Streams output line by line                                  │
//	│  - Applies problem matchers ($gcc, $ninja)                      │
//	└─────────────────────────────────────────────────────────────────┘
//
// Providers report per-query failures through a Notifier and run external
// commands through a Runner, so both can be replaced in tests.
//
// # Subpackages
//
//   - sources: provider implementations (Ninja)
package task
