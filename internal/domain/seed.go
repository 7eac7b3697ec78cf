package domain

// SeedEmail is the recipient used by SeedJobs.
const SeedEmail = "user@example.com"

// SeedJobs returns the 20-job demo batch, row for row as the demo program
// inserts it. Odd ids carry a NOOP payload and even ids SendEmail. Job 2 has
// NOOP params and job 14 FollowUp(false). Job 7 is a NOOP payload with
// FollowUp(true); only the email handler reads FollowUp, so the seed batch
// schedules no follow-up. All other jobs have no params.
func SeedJobs() []NewJob {
	jobs := make([]NewJob, 20)
	for i := range jobs {
		if i%2 == 0 {
			jobs[i].Payload = NoopPayload{}
		} else {
			jobs[i].Payload = SendEmailPayload{Email: SeedEmail}
		}
	}
	jobs[1].Params = NoopParams{}
	jobs[6].Params = FollowUpParams{Enabled: true}
	jobs[13].Params = FollowUpParams{Enabled: false}
	return jobs
}
