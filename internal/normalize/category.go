package normalize

import "strings"

const (
	defaultArticleCategory = "General AI"
	defaultVideoCategory   = "General"
)

type categoryRule struct {
	label    string
	keywords []string
}

// Ordered: the first matching category wins, so the more specific labels sit
// before the broad ones.
var articleCategories = []categoryRule{
	{"Machine Learning", []string{"machine learning", "deep learning", "neural network", "training data", "model training", "reinforcement learning"}},
	{"NLP", []string{"nlp", "language model", "llm", "gpt", "chatbot", "transformer", "text generation"}},
	{"Computer Vision", []string{"computer vision", "image recognition", "object detection", "diffusion", "image generation"}},
	{"Robotics", []string{"robot", "autonomous", "self-driving", "drone", "humanoid"}},
	{"AI Ethics", []string{"ethics", "bias", "regulation", "privacy", "safety", "alignment", "governance"}},
	{"Research", []string{"research", "paper", "study", "arxiv", "benchmark", "breakthrough"}},
	{"Business", []string{"startup", "funding", "acquisition", "investment", "revenue", "ipo"}},
}

var videoCategories = []categoryRule{
	{"Tutorial", []string{"tutorial", "how to", "guide", "course", "learn", "walkthrough"}},
	{"News", []string{"news", "update", "announcement", "release", "launch"}},
	{"Review", []string{"review", "comparison", "vs", "tested", "hands-on"}},
	{"Conference", []string{"conference", "keynote", "talk", "summit", "workshop"}},
}

func categorizeArticle(title, content string, tags []string) string {
	return matchCategory(articleCategories, defaultArticleCategory,
		title+" "+content+" "+strings.Join(tags, " "))
}

func categorizeVideo(title, description, channelName string) string {
	return matchCategory(videoCategories, defaultVideoCategory,
		title+" "+description+" "+channelName)
}

func matchCategory(rules []categoryRule, fallback, haystack string) string {
	haystack = strings.ToLower(haystack)
	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.label
			}
		}
	}
	return fallback
}
