package memory

import (
	"github.com/forgefleet/orchestrator/internal/domain/keypool"
	"github.com/forgefleet/orchestrator/internal/domain/schedule"
)

func keypoolFixture() keypool.Pool {
	return keypool.Pool{
		Name: "p1",
		Credentials: []keypool.Credential{
			{Name: "k1", Payload: "cd-key-1"},
			{Name: "k2", Payload: "cd-key-2"},
		},
	}
}

func scheduleFixture() schedule.Schedule {
	return schedule.Schedule{
		Name: "overnight",
		Periods: []schedule.Period{
			{StartHour: 22, EndHour: 6},
		},
	}
}
