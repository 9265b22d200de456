package classification

// DefaultBuckets returns the built-in service taxonomy. Merchants that
// straddle categories are pinned by priority: a video add-on of a broader
// membership (Amazon Prime Video) is streaming video, the membership itself
// is delivery.
func DefaultBuckets() []BucketPattern {
	return []BucketPattern{
		// Specific product lines of multi-service brands first
		{
			Bucket:   BucketMusic,
			Regex:    `\b(YOUTUBE\s*MUSIC|APPLE\s*MUSIC|AMAZON\s*MUSIC)(\W|$)`,
			Priority: 100,
		},
		{
			Bucket:   BucketStreamingVideo,
			Regex:    `\b(PRIME\s*VIDEO|APPLE\s*TV|YOUTUBE\s*(TV|PREMIUM))(\W|$)`,
			Priority: 100,
		},
		{
			Bucket:   BucketCloudStorage,
			Regex:    `\b(ICLOUD|GOOGLE\s*(ONE|STORAGE)|ONEDRIVE|MICROSOFT\s*365)(\W|$)`,
			Priority: 100,
		},
		{
			Bucket:   BucketAudiobooks,
			Regex:    `\b(AUDIBLE|AUDIOBOOKS?|LIBRO\s*FM|SCRIBD|EVERAND)(\W|$)`,
			Priority: 90,
		},

		// Broad brands
		{
			Bucket:   BucketStreamingVideo,
			Regex:    `\b(NETFLIX|HULU|DISNEY\s*(PLUS|\+)?|HBO\s*(MAX|NOW)?|PARAMOUNT\s*(PLUS|\+)?|PEACOCK|STARZ|SHOWTIME|CRUNCHYROLL|FUBO|SLING\s*TV|DISCOVERY\s*(PLUS|\+)|ESPN\s*(PLUS|\+)|MUBI|CRITERION)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketMusic,
			Regex:    `\b(SPOTIFY|PANDORA|TIDAL|DEEZER|SIRIUS\s*XM|SIRIUSXM|SOUNDCLOUD|QOBUZ)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketCloudStorage,
			Regex:    `\b(DROPBOX|BOX\s*\.?\s*NET|BACKBLAZE|PCLOUD|IDRIVE|SYNC\s*COM)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketFitness,
			Regex:    `\b(PELOTON|PLANET\s*FITNESS|EQUINOX|CLASSPASS|STRAVA|FITBOD|BEACHBODY|LA\s*FITNESS|ANYTIME\s*FITNESS|ORANGETHEORY|GOLDS\s*GYM|WHOOP|ZWIFT|NOOM)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketNews,
			Regex:    `\b(NYTIMES|NY\s*TIMES|NEW\s*YORK\s*TIMES|WSJ|WALL\s*STREET\s*JOURNAL|WASHINGTON\s*POST|WAPO|ECONOMIST|THE\s*ATLANTIC|NEW\s*YORKER|BLOOMBERG|FINANCIAL\s*TIMES|SUBSTACK)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketGaming,
			Regex:    `\b(XBOX|GAME\s*PASS|PLAYSTATION|PS\s*PLUS|NINTENDO|STEAM\s*GAMES|EA\s*PLAY|UBISOFT|APPLE\s*ARCADE|HUMBLE\s*BUNDLE)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketPasswordManager,
			Regex:    `\b(1PASSWORD|LASTPASS|DASHLANE|BITWARDEN|KEEPER\s*SECURITY|NORDPASS)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketVPN,
			Regex:    `\b(NORDVPN|NORD\s*VPN|EXPRESSVPN|EXPRESS\s*VPN|SURFSHARK|PROTON\s*VPN|PRIVATE\s*INTERNET\s*ACCESS|MULLVAD|CYBERGHOST|IPVANISH)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketMealKit,
			Regex:    `\b(HELLO\s*FRESH|HELLOFRESH|BLUE\s*APRON|HOME\s*CHEF|FACTOR\s*75|FACTOR\s*MEALS|GREEN\s*CHEF|EVERYPLATE|SUNBASKET|GOBBLE)(\W|$)`,
			Priority: 80,
		},
		{
			Bucket:   BucketDeliveryMembership,
			Regex:    `\b(AMAZON\s*PRIME|DASHPASS|UBER\s*ONE|INSTACART\s*(PLUS|\+|EXPRESS)|WALMART\s*(PLUS|\+)|SHIPT|GRUBHUB\s*(PLUS|\+)|COSTCO\s*MEMBERSHIP)(\W|$)`,
			Priority: 70,
		},
	}
}
