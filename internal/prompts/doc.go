// Package prompts contains the LLM prompt text used internally by Despensa.
//
// Prompt text is Go code rather than config files because it is program
// logic: it is validated by tests, embedded at compile time, and versioned
// with the pipeline that depends on its exact wording. User-facing
// configuration lives in config.yaml; this package holds the instructions
// we send to models.
package prompts
