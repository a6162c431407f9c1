package manager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/burrow/pkg/types"
)

func TestValidateService(t *testing.T) {
	tests := []struct {
		name    string
		spec    *types.Service
		wantErr string
	}{
		{
			name: "valid",
			spec: &types.Service{Name: "web", Image: "nginx:latest", Replicas: 3},
		},
		{
			name:    "missing name",
			spec:    &types.Service{Image: "nginx:latest"},
			wantErr: "service.name",
		},
		{
			name:    "missing image",
			spec:    &types.Service{Name: "web"},
			wantErr: "service.image",
		},
		{
			name:    "negative replicas",
			spec:    &types.Service{Name: "web", Image: "nginx:latest", Replicas: -1},
			wantErr: "service.replicas",
		},
		{
			name: "unknown constraint role",
			spec: &types.Service{
				Name: "web", Image: "nginx:latest",
				Constraints: &types.PlacementConstraints{Role: "gateway"},
			},
			wantErr: "service.constraints.role",
		},
		{
			name: "negative max replicas per node",
			spec: &types.Service{
				Name: "web", Image: "nginx:latest",
				Constraints: &types.PlacementConstraints{MaxReplicasPerNode: -1},
			},
			wantErr: "service.constraints.max_replicas_per_node",
		},
		{
			name: "negative max unavailable",
			spec: &types.Service{
				Name: "web", Image: "nginx:latest",
				UpdateConfig: &types.UpdateConfig{MaxUnavailable: -1},
			},
			wantErr: "service.update_config.max_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateService(tt.spec)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestServiceSpecEqualIgnoresServerFields(t *testing.T) {
	a := &types.Service{
		ID:        "svc-1",
		Name:      "web",
		Image:     "nginx:latest",
		Replicas:  3,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now(),
	}
	b := &types.Service{Name: "web", Image: "nginx:latest", Replicas: 3}

	assert.True(t, serviceSpecEqual(a, b))
}

func TestServiceSpecEqualDetectsChanges(t *testing.T) {
	a := &types.Service{Name: "web", Image: "nginx:1.25", Replicas: 3}

	changedImage := &types.Service{Name: "web", Image: "nginx:1.26", Replicas: 3}
	assert.False(t, serviceSpecEqual(a, changedImage))

	changedReplicas := &types.Service{Name: "web", Image: "nginx:1.25", Replicas: 5}
	assert.False(t, serviceSpecEqual(a, changedReplicas))

	addedCheck := &types.Service{
		Name: "web", Image: "nginx:1.25", Replicas: 3,
		HealthCheck: &types.HealthCheck{Type: types.HealthCheckHTTP, Port: 80},
	}
	assert.False(t, serviceSpecEqual(a, addedCheck))
}

func TestServiceSpecEqualRemovingNeverMatches(t *testing.T) {
	a := &types.Service{Name: "web", Image: "nginx:latest", Removing: true}
	b := &types.Service{Name: "web", Image: "nginx:latest"}

	// Re-applying a spec identical to a removing service must resurrect it,
	// so the comparison reports a change.
	assert.False(t, serviceSpecEqual(a, b))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "service.name", Reason: "must not be empty"}
	assert.Equal(t, "invalid service.name: must not be empty", err.Error())
}
