package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with speckit",
		Content: topicQuickstart,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: ".speckit/config.yaml schema, fields, and defaults",
		Content: topicConfig,
	},
	{
		Name:    "pipeline",
		Title:   "Stage Selection",
		Summary: "pipeline.toml layering, overrides, and stage dependencies",
		Content: topicPipeline,
	},
	{
		Name:    "stages",
		Title:   "Stages and Checkpoints",
		Summary: "The six stages, quality checkpoints, and what each produces",
		Content: topicStages,
	},
	{
		Name:    "telemetry",
		Title:   "Guardrail Telemetry",
		Summary: "Guardrail scripts and the telemetry JSON they must write",
		Content: topicTelemetry,
	},
	{
		Name:    "gates",
		Title:   "Gates",
		Summary: "Configuration, intake, clarification, and ship gates",
		Content: topicGates,
	},
	{
		Name:    "consensus",
		Title:   "Consensus",
		Summary: "How agent outputs are merged and reviewed",
		Content: topicConsensus,
	},
	{
		Name:    "evidence",
		Title:   "Evidence and State",
		Summary: "Layout of the evidence tree and .speckit/runs/",
		Content: topicEvidence,
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project:

    cd your-project
    speckit init

   This creates .speckit/config.yaml, a pipeline.toml template, one
   guardrail script per stage and a constitution under memory/.
   speckit init --ai asks an agent to tailor prompts and guardrail
   scripts to the project.

2. Write a spec at docs/<SPEC-ID>/spec.md.

3. Record a design brief:

    speckit intake SPEC-KIT-001 --brief brief.md

4. Run the pipeline:

    speckit run SPEC-KIT-001

5. Check progress, or diagnose a halt:

    speckit status SPEC-KIT-001
    speckit doctor SPEC-KIT-001

CLI
---

  speckit run <spec>                  Run plan through unlock
  speckit run <spec> --from <stage>   Resume from a stage
  speckit run <spec> --skip-<stage>   Skip a stage for this run
  speckit run <spec> --only-<stage>   Run only the named stage(s)
  speckit run <spec> --stages=a,b     Run only the listed stages
  speckit run <spec> --hal-mode live  Forward SPEC_OPS_HAL_MODE to guardrails
  speckit run <spec> --answers f.yaml Pre-supplied clarification answers
  speckit run <spec> --auto           Answer gates without prompting
  speckit plan <spec>                 Planning-only run (plan, tasks)
  speckit status <spec>               Show the persisted run snapshot
  speckit intake <spec> --brief <f>   Record a design brief
  speckit doctor <spec>               Diagnose a halted run
  speckit init [--ai]                 Scaffold .speckit/
  speckit docs [topic]                Show documentation
`

const topicConfig = `Configuration Reference
=======================

The project is configured in .speckit/config.yaml. Relative paths are
resolved against the project root (the directory holding .speckit/).

Top-level fields
----------------

  name               string   Required. Project name.
  spec-pattern       string   Regex for spec ids (anchored automatically).
  spec-dir           string   Spec documents. Default: docs
  evidence-dir       string   Evidence root. Default:
                              docs/SPEC-OPS-004-integrated-coder-hooks/evidence
  state-dir          string   Run state. Default: .speckit
  capture-mode       string   none, prompts_only (default) or full_io.
  phase1-gate-mode   string   skip, warn (default) or block.
  constitution       string   Default: memory/constitution.md
  policy             string   Default: memory/policy.toml
  main-branch        string   Default: main
  auto-commit        bool     Commit spec documents after each stage.
  worktrees          bool     Run agents in git worktrees.
  guardrail-dir      string   Guardrail scripts. Default:
                              scripts/spec_ops_004/commands
  guardrail-timeout  int      Minutes. Default: 15
  evidence-limit-mb  int      Evidence size limit per spec. Default: 50
  consensus-db       string   Default: .speckit/consensus.db
  capsule-db         string   Default: .speckit/capsule.db
  agents             list     Required. At least one agent.
  stage-agents       map      Stage name to agent names. Stages without
                              an entry use every agent.
  stage0             object   Context compilation settings.

Agent fields
------------

  name      string   Required. Letters, digits, '.', '_' and '-'.
  command   string   Executable. Default: claude
  model     string   Model passed to the agent.
  timeout   int      Minutes. Default: 30

stage0 fields
-------------

  disabled      bool     Skip context compilation.
  timeout       int      Seconds. Default: 300
  notebook-url  string   Tier 2 synthesis endpoint. Empty disables tier 2.
  memory-dir    string   Local memories, one markdown file per entry.

Example
-------

  name: my-project
  spec-pattern: 'SPEC-[A-Z]+-\d+'
  agents:
    - name: claude
      model: opus
    - name: gemini
      command: gemini
  stage-agents:
    implement: [claude]
`

const topicPipeline = `Stage Selection
===============

Which stages run is decided in three layers. Later layers win.

  1. [pipeline.defaults] in .speckit/pipeline.toml, or in
     ~/.speckit/pipeline.toml when the project has none
  2. <spec-dir>/<spec>/pipeline.toml
  3. Command-line flags: --skip-<stage>, --only-<stage>, --stages=a,b

Fields
------

  spec_id          string   Informational.
  enabled_stages   list     Stages to run, e.g. ["plan", "tasks"].
  skip_reasons     map      Stage name to reason shown when skipped.

  [quality_gates]
  enabled          bool     Run quality checkpoints. Default: true
  auto_resolve     bool     Auto-resolve unanimous answers. Default: true

Dependencies
------------

Hard dependencies are errors: tasks needs plan, implement needs tasks.
Soft dependencies are warnings, for example validate without implement.

A skipped stage still writes telemetry (speckit-<stage>_SKIPPED.json)
so the evidence trail stays complete.
`

const topicStages = `Stages and Checkpoints
======================

A full run has six stages, in order:

  plan       Work breakdown, risks, affected surfaces.
  tasks      Task list with owners and dependencies.
  implement  Code changes.
  validate   Tests and acceptance scenarios.
  audit      Security and policy review.
  unlock     Ship summary.

Each stage runs its guardrail script, evaluates the telemetry, dispatches
the stage's agents, merges their outputs into <spec-dir>/<spec>/<stage>.md
and checks consensus before advancing.

Quality checkpoints run before the stage they belong to:

  before-specify  before plan       clarify ambiguities
  after-specify   before tasks      requirements checklist
  after-tasks     before implement  consistency analysis

Agents propose answers for each issue. Unanimous answers are applied
automatically; the rest are escalated to a human. A checkpoint runs at
most once per run.

speckit plan <spec> runs only plan and tasks, with quality gates off and
no ship gate.
`

const topicTelemetry = `Guardrail Telemetry
===================

Every stage runs <guardrail-dir>/spec-ops-<stage>.sh <spec> via bash
before its agents start. The script must write a JSON telemetry file to

  <evidence-dir>/commands/<spec>/<stage>_<anything>.json

The newest file for the stage is evaluated. The exit code is logged but
not used.

Environment
-----------

  SPECKIT_SPEC_ID, SPECKIT_RUN_ID, SPECKIT_STAGE, SPECKIT_PROJECT_ROOT,
  SPECKIT_WORK_DIR and SPEC_OPS_HAL_MODE (when --hal-mode is set).

Required fields
---------------

  command     "spec-ops-<stage>"
  specId      the spec id
  sessionId   any non-empty string
  timestamp   RFC 3339
  artifacts   list of paths that must exist (not for validate or audit)

Stage fields and passing values
-------------------------------

  plan       baseline.status passed|skipped, hooks."session.start" ok
  tasks      tool.status ok
  implement  lock_status locked, hook_status ok
  validate   scenarios: [{"name": ..., "status": passed|skipped}]
  audit      scenarios: [{"name": ..., "status": passed|skipped}]
  unlock     unlock_status unlocked

Optional policy.prefilter.status and policy.final.status must be passed
or skipped when present. validate and audit may add hal.summary with
status and failed_checks.

Any other value, a missing field or a missing artifact halts the run and
lists the failing checks.
`

const topicGates = `Gates
=====

Configuration gate
  Checks the constitution for principles and guardrails. phase1-gate-mode
  decides the outcome: skip ignores it, warn prints the findings and
  continues, block aborts the run.

Intake gate
  Requires a design brief recorded with speckit intake. Without one the
  run pauses and asks for the brief path.

Clarification gate
  Asks the clarification questions and records a Maieutic Spec under the
  evidence tree. Pre-supplied answers (--answers) skip the questions.

Ship gate
  Before unlock, requires the Maieutic Spec and the ACE milestone frame
  written after audit. capture-mode none always blocks shipping.
`

const topicConsensus = `Consensus
=========

When every agent of a stage has answered, their outputs are merged
locally: JSON blocks are extracted, sections are grouped, conflicts are
listed and the result is written to <spec-dir>/<spec>/<stage>.md. The
synthesis is also recorded in the consensus database.

Outcomes
  ok         all required agents agreed
  degraded   some agents failed; the stage continues and a follow-up
             checklist is scheduled once
  conflict   agents disagreed; the run halts

When agent texts are not available, consensus is checked against the
evidence under <evidence-dir>/consensus/<spec>/.
`

const topicEvidence = `Evidence and State
==================

Evidence tree (evidence-dir):

  commands/<spec>/    guardrail telemetry, skip telemetry
  consensus/<spec>/   per-agent consensus evidence, <stage>_synthesis.json,
                      <stage>_verdict.json (implement, validate, or any
                      stage whose agents raised risks)
  specs/<spec>/       Maieutic Spec, milestone frames, quality records,
                      verification_report.md

Run state (state-dir):

  runs/<spec>/state.json       current snapshot (speckit status)
  runs/<spec>/execution.jsonl  execution log
  runs/<spec>/timing.json      stage durations
  runs/<spec>/logs/            <stage>_<process>.log

  capsule.db     intake briefs, policy snapshots, events, run branches
  consensus.db   synthesis records

A spec whose evidence exceeds evidence-limit-mb halts before any stage
runs.
`

// SchemaReference returns the config, stage and telemetry documentation
// suitable for embedding in prompts.
func SchemaReference() string {
	return topicConfig + "\n\n" + topicStages + "\n\n" + topicTelemetry
}
