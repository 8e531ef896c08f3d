package internal

// Option is a functional option for the application entry points.
type Option func(*application)

type application struct {
	config *Config
}

// WithConfig supplies the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

func newApplication(opts ...Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		app.config = NewDefaultConfig()
	}
	if err := app.config.Validate(); err != nil {
		return nil, err
	}
	return app, nil
}
