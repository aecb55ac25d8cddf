package classifier

// globalRules are the senders recognized for every user
var globalRules = []Rule{
	{Address: "@substack.com"},
	{Address: "^hello@6pages.com$"},
	{Address: "^austin@austinkleon.com$"},
	{Address: "@axios.com"},
	{Address: "^team@acciyo.com$"},
	{Address: "^list@ben-evans.com$"},
	{Address: "^newsletter@businessinsider.com$"},
	{Address: "^morningsquawk@response.cnbc.com$"},
	{Address: "^politics@response.cnbc.com$"},
	{Address: "^kelly@cnbc.com$"},
	{Address: "^editors@fiercebiotech.com$"},
	{Address: "^hello@finimize.com$"},
	{Address: "^josh@connectedcomedy.com$"},
	{Address: "^kale@hackernewsletter.com$"},
	{Address: "^newsletter@jkglei.com$"},
	{Address: "^jack@jack-clark.net$"},
	{Address: "@launch.co"},
	{Address: "^bob@lefsetz.com$"},
	{Address: "^hello@mailbrew.com$"},
	{Address: "^matt@othersideai.com$"},
	{Address: "^crew@morningbrew.com$"},
	{Address: "^hello@muckrack.com$"},
	{Address: "^info@theneed2know.com$"},
	{Address: "^email@nl.npr.org$"},
	{Address: "^nytdirect@nytimes.com$"},
	{Address: "^journalism@pewresearch.org$"},
	{Address: "^politicoplaybook@email.politico.com$"},
	{Address: "^hello@digest.producthunt.com$"},
	{Address: "^hi@qz.com$"},
	{Address: "^noreply@robinhood.com$", Name: "Robinhood Snacks"},
	{Address: "^edith@race.capital$"},
	{Address: "^newsletter@techcrunch.com$"},
	{Address: "^newsletters@technologyreview.com$"},
	{Address: "^fortune@newsletters.fortune.com$"},
	{Address: "^inside@thedailybeast.com$"},
	{Address: "@pitchbook.com"},
	{Address: "^news@thehustle.co$"},
	{Address: "^hello@theinformation.com$"},
	{Address: "^editors@SundayLongRead.com$"},
	{Address: "^contact@theundefeated.com$"},
	{Address: "^dailyskimm@morning7.theskimm.com$"},
	{Address: "^tim@fourhourbody.com$"},
	{Address: "^dan@tldrnewsletter.com$"},
	{Address: "^team@marketing.angel.co$"},
	{Address: "^newsletter@vox.com$"},
}

// GlobalRules returns a copy of the built-in rules
func GlobalRules() []Rule {
	rules := make([]Rule, len(globalRules))
	copy(rules, globalRules)
	for i := range rules {
		if rules[i].Name == "" {
			rules[i].Name = MatchAll
		}
	}
	return rules
}
