package docker

// WorkloadType identifies whether a workload is a Swarm service or a
// standalone container.
type WorkloadType string

const (
	WorkloadTypeService   WorkloadType = "service"
	WorkloadTypeContainer WorkloadType = "container"
)

func (t WorkloadType) String() string {
	return string(t)
}

// Workload is the mode-agnostic view of a Swarm service or a standalone
// container. The sync engine only ever sees workloads, never the
// underlying Docker objects.
type Workload struct {
	// ID is the service or container id.
	ID string

	// Name is the service name or the container name without the
	// leading slash.
	Name string

	// Labels holds all labels from the service or container. The label
	// extractor reads hostname rules and record settings from here.
	Labels map[string]string

	Type WorkloadType
}

func (w Workload) String() string {
	return w.Type.String() + ":" + w.Name
}

// Label returns the value of a label, or empty string when absent.
func (w Workload) Label(key string) string {
	return w.Labels[key]
}

// HasLabel reports whether the workload carries the label at all.
func (w Workload) HasLabel(key string) bool {
	_, ok := w.Labels[key]
	return ok
}

// Workloads is a slice of Workload with filter helpers.
type Workloads []Workload

// Filter returns the workloads matching the predicate.
func (ws Workloads) Filter(keep func(Workload) bool) Workloads {
	out := make(Workloads, 0, len(ws))
	for _, w := range ws {
		if keep(w) {
			out = append(out, w)
		}
	}
	return out
}

// WithLabel returns workloads carrying the label with any value.
func (ws Workloads) WithLabel(key string) Workloads {
	return ws.Filter(func(w Workload) bool { return w.HasLabel(key) })
}

// Names returns all workload names.
func (ws Workloads) Names() []string {
	names := make([]string, len(ws))
	for i, w := range ws {
		names[i] = w.Name
	}
	return names
}
