package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"
)

const DefaultName = "larkauth"

// Named returns the logger for a component, e.g. "larkauth.cache". A nil
// provider yields a nop logger.
func Named(provider glog.LoggerProvider, component string) glog.Logger {
	if provider == nil {
		return glog.Nop()
	}
	return glog.Ensure(provider.GetLogger(componentName(component)))
}

// ForJob resolves the component logger with precedence provider > logger >
// nop and returns it alongside its go-job bridge, for token job workers.
func ForJob(component string, provider glog.LoggerProvider, logger glog.Logger) (glog.Logger, job.Logger) {
	_, resolved := glog.Resolve(componentName(component), provider, logger)
	return resolved, job.GoLogger(resolved)
}

func componentName(component string) string {
	component = strings.TrimPrefix(strings.TrimSpace(component), DefaultName+".")
	if component == "" || component == DefaultName {
		return DefaultName
	}
	return DefaultName + "." + component
}
