package stats

/*
This file defines all the metrics being collected. As new metrics are added please follow this pattern.
*/

const (
	/****************************** API metrics *********************************/
	/*
		number of ping requests
	*/
	APIPingCounter = "pingCounter"

	/*
		standalone job submissions and the time taken to create their ticket
	*/
	APISubmitCounter    = "submitCounter"
	APISubmitLatency_ms = "submitLatency_ms"

	/*
		experiment submissions and the time taken to decompose them
	*/
	APISubmitExperimentCounter    = "submitExperimentCounter"
	APISubmitExperimentLatency_ms = "submitExperimentLatency_ms"

	/*
		progress queries, counted once per requested ticket list
	*/
	APIGetProgressCounter    = "getProgressCounter"
	APIGetProgressLatency_ms = "getProgressLatency_ms"

	/*
		result fetches
	*/
	APIGetResultCounter    = "getResultCounter"
	APIGetResultLatency_ms = "getResultLatency_ms"

	/*
		batch result fetches, experiments expanded to their members
	*/
	APIGetResultsCounter    = "getResultsCounter"
	APIGetResultsLatency_ms = "getResultsLatency_ms"

	/*
		cancel requests
	*/
	APICancelCounter    = "cancelCounter"
	APICancelLatency_ms = "cancelLatency_ms"

	/*
		experiment log and state queries
	*/
	APIGetLogCounter      = "getLogCounter"
	APIGetStateCounter    = "getStateCounter"
	APIGetStateLatency_ms = "getStateLatency_ms"

	/*
		requests refused because the service is configured as unavailable
	*/
	APIUnavailableCounter = "unavailableCounter"

	/*
		submissions refused by the rate limiter
	*/
	APIRateLimitedCounter = "rateLimitedCounter"

	/*
		requests rejected as malformed
	*/
	APIInvalidRequestCounter = "invalidRequestCounter"

	/*
		1 for a minute after the server starts, then 0
	*/
	APIServerStartedGauge = "serverStartedGauge"

	/*
		milliseconds since the server started
	*/
	APIServerUptime_ms = "serverUptimeGauge_ms"

	/*************************** Decomposer metrics ******************************/
	/*
		experiments successfully decomposed into tickets
	*/
	DecomposerExperimentsCounter = "experimentsCounter"

	/*
		member tickets created, implicit ones included
	*/
	DecomposerTicketsCounter = "ticketsCounter"

	/*
		implicit Evaluate tickets synthesized for lpt thresholds
	*/
	DecomposerImplicitJobsCounter = "implicitJobsCounter"

	/*
		submissions rejected before anything was persisted
	*/
	DecomposerRejectedCounter = "rejectedCounter"

	/*
		submissions whose tickets were deleted after a storage failure
	*/
	DecomposerRollbackCounter = "rollbackCounter"

	/*
		time taken to persist an experiment and its members
	*/
	DecomposerLatency_ms = "decomposeLatency_ms"

	/**************************** Trigger metrics ********************************/
	/*
		trigger invocations, one per completed ticket
	*/
	TriggerInvocationsCounter = "invocationsCounter"

	/*
		invocations that found the experiment already terminal
	*/
	TriggerNoOpCounter = "noOpCounter"

	/*
		dependents promoted from blocked to runnable
	*/
	TriggerPromotedCounter = "promotedCounter"

	/*
		experiments marked succeeded
	*/
	TriggerSucceededCounter = "experimentSucceededCounter"

	/*
		experiments stopped because a producer result could not be spliced
	*/
	TriggerSpliceErrorCounter = "spliceErrorCounter"

	/*
		time spent waiting for the experiment lock
	*/
	TriggerLockLatency_ms = "lockLatency_ms"

	/*
		time taken by one trigger invocation, lock wait included
	*/
	TriggerLatency_ms = "triggerLatency_ms"

	/**************************** Cascade metrics ********************************/
	/*
		experiments stopped by the cascade
	*/
	CascadeExperimentsCounter = "stoppedExperimentsCounter"

	/*
		blocked or runnable tickets cancelled, by the cascade or by a user
	*/
	CascadeCancelledTicketsCounter = "cancelledTicketsCounter"

	/*
		user cancel requests that found the ticket already started
	*/
	CascadeCancelRefusedCounter = "cancelRefusedCounter"

	/*************************** Progress metrics ********************************/
	/*
		experiment membership lookups served from and missing the cache
	*/
	ProgressCacheHitCounter  = "membershipCacheHitCounter"
	ProgressCacheMissCounter = "membershipCacheMissCounter"

	/************************** Dispatcher metrics *******************************/
	/*
		completion events received
	*/
	DispatcherEventsCounter = "eventsCounter"

	/*
		experiments with a live goroutine
	*/
	DispatcherActiveGauge = "activeExperimentsGauge"

	/**************************** Worker metrics *********************************/
	/*
		runnable requests claimed, and claims lost to another worker
	*/
	WorkerClaimedCounter   = "claimedCounter"
	WorkerClaimLostCounter = "claimLostCounter"

	/*
		executions that produced a result, and those that did not
	*/
	WorkerSucceededCounter = "succeededCounter"
	WorkerFailedCounter    = "failedCounter"

	/*
		jobs interrupted by a worker shutdown and handed back to the runnable stage
	*/
	WorkerRequeuedCounter = "requeuedCounter"

	/*
		executions in flight
	*/
	WorkerRunningGauge = "runningGauge"

	/*
		time taken by one execution
	*/
	WorkerRunLatency_ms = "runLatency_ms"

	/*
		1 for a minute after a standalone worker starts, then 0
	*/
	WorkerStartedGauge = "workerStartedGauge"

	/*
		milliseconds since the standalone worker started
	*/
	WorkerUptime_ms = "workerUptimeGauge_ms"
)
