package ctxkey

type engineContextKey string

// TriggeredBy - the context key for the actor that caused the current operation
var TriggeredBy = engineContextKey("TRIGGERED_BY")

// WorkflowID - the context key for the workflow being operated on
var WorkflowID = engineContextKey("WORKFLOW_ID")

// ResourceID - the context key for the resource being operated on
var ResourceID = engineContextKey("RESOURCE_ID")

// APIFunc - the context key for the currently executing API function
var APIFunc = engineContextKey("API_FN")
