// Package environment names the deployment stage (development, staging,
// production) and carries it through context.Context, HTTP requests and logs.
//
// The jobq binary parses APP_ENV once at startup:
//
//	env := environment.Parse(os.Getenv("APP_ENV"))
//	log := logger.New(logger.WithEnvironment(env, "jobq"))
//
// The ingest router attaches it to every request with Middleware so handlers
// and LoggerExtractor can see it.
package environment
