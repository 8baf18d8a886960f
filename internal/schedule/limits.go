package schedule

// Daily send capacity per device
const (
	BaseDailyLimit    = 90
	PerVariationBonus = 10
)

// DeviceDailyLimit returns the per-device daily cap for a campaign with the
// given number of non-empty message variations.
func DeviceDailyLimit(nonEmptyVariations int) int {
	extra := nonEmptyVariations - 1
	if extra < 0 {
		extra = 0
	}
	return BaseDailyLimit + PerVariationBonus*extra
}

// CampaignDailyLimit returns the cap across all of a campaign's devices
func CampaignDailyLimit(nonEmptyVariations, deviceCount int) int {
	if deviceCount < 1 {
		deviceCount = 1
	}
	return DeviceDailyLimit(nonEmptyVariations) * deviceCount
}
